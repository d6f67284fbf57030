package unidb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/unidb/internal/adapter"
	"github.com/rzpsarthak13/unidb/internal/changefeed"
	"github.com/rzpsarthak13/unidb/internal/registry"
	"github.com/rzpsarthak13/unidb/internal/sequence"
)

// Config is the root configuration of a DB.
type Config struct {
	// Adapter selects and configures the backing store.
	Adapter adapter.Config `yaml:"adapter"`

	// Tables holds per table overrides keyed by table name.
	Tables map[string]TableConfig `yaml:"tables,omitempty"`

	// Sequence tunes the compare-and-swap retry loop.
	Sequence sequence.Options `yaml:"sequence"`

	// Changefeed configures change event publishing.
	Changefeed changefeed.Config `yaml:"changefeed"`
}

// TableConfig overrides the ttl and consistency of one table.
type TableConfig = registry.TableConfig

// Seconds is a duration written as seconds or a duration string.
type Seconds = registry.Seconds

// DefaultConfig returns a configuration using the memory adapter with
// the change feed disabled.
func DefaultConfig() *Config {
	return &Config{
		Adapter: adapter.Config{
			Type: adapter.TypeMemory,
			DynamoDB: adapter.DynamoDBConfig{
				Region: "us-east-1",
			},
			Redis: adapter.RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			MySQL: adapter.MySQLConfig{
				Host:         "localhost",
				Port:         3306,
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
		},
		Sequence: sequence.DefaultOptions(),
		Changefeed: changefeed.Config{
			Type:       changefeed.TypeMemory,
			BufferSize: changefeed.DefaultBufferSize,
			Redis: changefeed.RedisQueueConfig{
				Addr: "localhost:6379",
				Key:  changefeed.DefaultRedisQueueKey,
			},
			Drainer: changefeed.DefaultDrainerConfig(),
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := adapter.Validate(c.Adapter); err != nil {
		return fmt.Errorf("invalid adapter config: %w", err)
	}
	return c.validateRest()
}

func (c *Config) validateRest() error {
	if err := registry.ValidateTableConfigs(c.Tables); err != nil {
		return err
	}
	if c.Sequence.MaxAttempts < 0 {
		return fmt.Errorf("sequence max_attempts cannot be negative")
	}
	if c.Sequence.Backoff < 0 || c.Sequence.MaxBackoff < 0 {
		return fmt.Errorf("sequence backoff cannot be negative")
	}
	if err := c.Changefeed.Validate(); err != nil {
		return fmt.Errorf("invalid changefeed config: %w", err)
	}
	return nil
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return cfg, nil
}
