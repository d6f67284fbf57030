package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/unidb/pkg/unidb"
)

const envPrefix = "UNIDB"

// loadConfig layers the config file and UNIDB_* variables over the
// defaults. A non-empty adapterType wins over both.
//
// Viper lowercases keys and keeps env values as strings, so the merged
// settings are re-encoded as YAML and decoded with the same rules as
// unidb.LoadConfig.
func loadConfig(path, adapterType string) (*unidb.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(unidb.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if adapterType != "" {
		v.Set("adapter.type", adapterType)
	}

	data, err := yaml.Marshal(typedSettings(v.AllSettings()))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged config: %w", err)
	}
	return unidb.ParseConfig(data)
}

// typedSettings turns env strings such as "2" or "true" back into ints
// and bools so they decode into numeric and boolean fields.
func typedSettings(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = typedSettings(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = typedSettings(item)
		}
		return out
	case string:
		var scalar any
		if err := yaml.Unmarshal([]byte(val), &scalar); err == nil {
			switch scalar.(type) {
			case int, bool:
				return scalar
			}
		}
		return val
	default:
		return v
	}
}

// newLogger builds a console logger for development or a JSON logger for
// production. Logs go to stderr so command output stays parseable.
func newLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl := zapcore.WarnLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		lvl = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
