package modules

import (
	"sort"
	"sync"
)

// VirtualRegistry maps operator-assigned keys to module source text. One
// registry is shared by every execution context of a host session.
type VirtualRegistry struct {
	mu      sync.RWMutex
	modules map[string]string // Protected by mu
}

// NewVirtualRegistry creates an empty registry
func NewVirtualRegistry() *VirtualRegistry {
	return &VirtualRegistry{
		modules: make(map[string]string),
	}
}

// Register stores code under key, replacing any previous entry
func (r *VirtualRegistry) Register(key, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[key] = code
}

// Unregister removes key. Removing a missing key is a no-op.
func (r *VirtualRegistry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.modules, key)
}

// Clear removes every entry
func (r *VirtualRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.modules)
}

// Get returns the code registered under key
func (r *VirtualRegistry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.modules[key]
	return code, ok
}

// Keys returns the registered keys in sorted order
func (r *VirtualRegistry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.modules))
	for k := range r.modules {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of registered modules
func (r *VirtualRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
