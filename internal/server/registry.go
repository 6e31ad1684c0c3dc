package server

import (
	"sync"
	"time"

	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// Registry keeps encode results by ID for the download action. Entries are
// dropped by Prune once their job directory has been swept.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	now     func() time.Time
}

type registryEntry struct {
	result  types.Result
	created time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
		now:     time.Now,
	}
}

func (r *Registry) Put(result types.Result) {
	if result.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[result.ID] = registryEntry{result: result, created: r.now()}
}

func (r *Registry) Get(id string) (types.Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.result, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Prune removes entries older than maxAge and returns how many were removed
func (r *Registry) Prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		if e.created.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}
