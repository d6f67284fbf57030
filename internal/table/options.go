package table

import (
	"time"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// Option adjusts the settings of a single data operation.
type Option func(*core.Options)

// WithTTL overrides the table default lifetime. Zero disables expiry for
// the write.
func WithTTL(ttl time.Duration) Option {
	return func(o *core.Options) {
		o.TTL = &ttl
	}
}

// WithConsistency requests a read or write consistency level.
func WithConsistency(level string) Option {
	return func(o *core.Options) {
		o.Consistency = level
	}
}

// WithLimit caps the number of returned records.
func WithLimit(n int) Option {
	return func(o *core.Options) {
		o.Limit = n
	}
}

// WithProjection restricts returned records to fields.
func WithProjection(fields ...string) Option {
	return func(o *core.Options) {
		o.Projection = append([]string(nil), fields...)
	}
}
