package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/unidb/internal/core"
)

// SyncHook is called for each table after the adapter has materialized
// it. An error aborts the sync.
type SyncHook interface {
	OnSync(ctx context.Context, name string, spec *core.TableSpec) error
}

// SyncHookFunc adapts a function to SyncHook.
type SyncHookFunc func(ctx context.Context, name string, spec *core.TableSpec) error

// OnSync calls f.
func (f SyncHookFunc) OnSync(ctx context.Context, name string, spec *core.TableSpec) error {
	return f(ctx, name, spec)
}

// LifecycleManager runs sync hooks in registration order.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []SyncHook
}

// NewLifecycleManager creates a manager with no hooks.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

// RegisterHook appends hook.
func (lm *LifecycleManager) RegisterHook(hook SyncHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// ExecuteSyncHooks runs every hook for one table and stops at the first
// error.
func (lm *LifecycleManager) ExecuteSyncHooks(ctx context.Context, name string, spec *core.TableSpec) error {
	lm.mu.RLock()
	hooks := make([]SyncHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	lm.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook.OnSync(ctx, name, spec); err != nil {
			return err
		}
	}
	return nil
}

// HookCount returns the number of registered hooks.
func (lm *LifecycleManager) HookCount() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.hooks)
}
