// internal/health/registry.go
package health

import (
	"sort"
	"sync"
)

// Registry holds the last known status of every configured check. Entries
// exist for the lifetime of the check set and are only ever overwritten.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewRegistry creates a registry with every check in the unknown state
func NewRegistry(checks []CheckSpec) *Registry {
	r := &Registry{}
	r.Reset(checks)
	return r
}

// Reset drops all entries and recreates one unknown status per check
func (r *Registry) Reset(checks []CheckSpec) {
	statuses := make(map[string]Status, len(checks))
	for _, c := range checks {
		statuses[c.Name] = Unknown()
	}

	r.mu.Lock()
	r.statuses = statuses
	r.mu.Unlock()
}

// Update overwrites the status of a configured check. Unknown names are
// ignored and reported with false.
func (r *Registry) Update(name string, st Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.statuses[name]; !ok {
		return false
	}
	r.statuses[name] = st.Copy()
	return true
}

// Get returns the status of a single check
func (r *Registry) Get(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.statuses[name]
	if !ok {
		return Status{}, false
	}
	return st.Copy(), true
}

// Snapshot returns a copy of every status
func (r *Registry) Snapshot() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Status, len(r.statuses))
	for name, st := range r.statuses {
		result[name] = st.Copy()
	}
	return result
}

// Names returns the configured check names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.statuses))
	for name := range r.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of configured checks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.statuses)
}
