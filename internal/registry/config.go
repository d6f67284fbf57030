package registry

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// Seconds is a duration written in YAML either as a number of seconds or
// as a Go duration string such as "90s".
type Seconds time.Duration

// Duration returns s as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// UnmarshalYAML accepts 60, 1.5 or "2h".
func (s *Seconds) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	d, err := schema.ParseTTL(core.Scalar{Value: raw})
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = Seconds(d)
	return nil
}

// MarshalYAML writes s as a duration string.
func (s Seconds) MarshalYAML() (any, error) {
	return time.Duration(s).String(), nil
}

// TableConfig overrides the settings a table gets from its definition.
type TableConfig struct {
	// TTL replaces the definition ttl. Zero disables expiry.
	TTL *Seconds `yaml:"ttl,omitempty"`

	// Consistency is the default level for calls on this table.
	Consistency string `yaml:"consistency,omitempty"`
}

// Validate checks the override values.
func (c TableConfig) Validate() error {
	if c.TTL != nil && *c.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	switch c.Consistency {
	case core.ConsistencyDefault, core.ConsistencyEventual, core.ConsistencyStrong:
		return nil
	default:
		return fmt.Errorf("unsupported consistency %q", c.Consistency)
	}
}

// ValidateTableConfigs checks every override.
func ValidateTableConfigs(tables map[string]TableConfig) error {
	for name, cfg := range tables {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config for table %s: %w", name, err)
		}
	}
	return nil
}
