// control/store.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with snapshot reads and hot-reload
// propagation.

package control

import (
	"sync"
	"sync/atomic"
)

// ConfigStore holds the current configuration snapshot and notifies
// listeners when it is replaced.
type ConfigStore struct {
	current   atomic.Pointer[Config]
	mu        sync.Mutex
	listeners []func(old, cur *Config)
	path      string
}

// NewConfigStore initializes a store with cfg. path, when not empty, is the
// file Reload reads.
func NewConfigStore(cfg *Config, path string) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cs := &ConfigStore{path: path}
	cs.current.Store(cfg)
	return cs
}

// Snapshot returns the current configuration. Callers must not modify it.
func (cs *ConfigStore) Snapshot() *Config {
	return cs.current.Load()
}

// Path returns the backing file path.
func (cs *ConfigStore) Path() string { return cs.path }

// Set validates cfg, installs it and runs the reload listeners in
// registration order.
func (cs *ConfigStore) Set(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := cs.current.Swap(cfg)
	for _, fn := range cs.listeners {
		fn(old, cfg)
	}
	return nil
}

// Reload re-reads the backing file. The current snapshot is kept when the
// file is missing or invalid.
func (cs *ConfigStore) Reload() error {
	cfg, err := LoadConfig(cs.path)
	if err != nil {
		return err
	}
	return cs.Set(cfg)
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(old, cur *Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
