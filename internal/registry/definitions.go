package registry

import (
	"fmt"
	"sync"

	"github.com/rzpsarthak13/unidb/internal/core"
	"github.com/rzpsarthak13/unidb/internal/schema"
)

// Definitions holds the raw schema definitions registered with Define, in
// registration order. Redefining a name merges into the stored tree.
type Definitions struct {
	mu     sync.RWMutex
	order  []string
	defs   map[string]core.Node
	synced map[string]bool
}

// NewDefinitions creates an empty definition set.
func NewDefinitions() *Definitions {
	return &Definitions{
		defs:   make(map[string]core.Node),
		synced: make(map[string]bool),
	}
}

// Define registers def under name, merging it into any earlier
// definition. The name is marked pending until the next sync.
func (d *Definitions) Define(name string, def core.Node) error {
	if name == "" {
		return fmt.Errorf("%w: table name cannot be empty", core.ErrInvalidSchema)
	}
	if _, ok := def.(*core.Object); !ok {
		return fmt.Errorf("%w: definition of %s must be an object", core.ErrInvalidSchema, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.defs[name]
	if !ok {
		d.order = append(d.order, name)
	}
	d.defs[name] = schema.Merge(existing, def)
	d.synced[name] = false
	return nil
}

// Get returns a copy of the merged definition.
func (d *Definitions) Get(name string) (core.Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[name]
	if !ok {
		return nil, false
	}
	return core.Clone(def), true
}

// Has reports whether name was defined.
func (d *Definitions) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.defs[name]
	return ok
}

// Names returns every defined name in registration order.
func (d *Definitions) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

// Pending returns the names defined or redefined since they were last
// synced.
func (d *Definitions) Pending() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, name := range d.order {
		if !d.synced[name] {
			out = append(out, name)
		}
	}
	return out
}

// MarkSynced records that names are materialized.
func (d *Definitions) MarkSynced(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		if _, ok := d.defs[name]; ok {
			d.synced[name] = true
		}
	}
}

// IsSynced reports whether name is materialized in its current form.
func (d *Definitions) IsSynced(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.synced[name]
}
