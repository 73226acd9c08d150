// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with reload propagation.

package control

import (
	"maps"
	"slices"
	"sync"
)

// ConfigStore is a dynamic key/value map with snapshot reads and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func(snapshot map[string]any)
}

// NewConfigStore initializes a new config store seeded with initial.
func NewConfigStore(initial map[string]any) *ConfigStore {
	cs := &ConfigStore{config: make(map[string]any, len(initial))}
	maps.Copy(cs.config, initial)
	return cs
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// Get returns one value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig merges new values and dispatches reload listeners with the merged snapshot.
// Listeners run synchronously on the calling goroutine, after the lock is released.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	maps.Copy(cs.config, newCfg)
	snapshot := maps.Clone(cs.config)
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(snapshot map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
