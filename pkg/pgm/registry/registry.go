// Package registry implements the process-wide endpoint registry from
// spec §9's design note: a single reader/writer-locked table every
// bound endpoint registers into and unregisters from, so diagnostics
// and an eventual signal-driven shutdown can enumerate live endpoints
// without each caller threading a reference through their own code.
package registry

import (
	"sync"

	"github.com/jabolina/go-pgm/pkg/pgm/core"
)

var (
	mu        sync.RWMutex
	endpoints = make(map[*core.Transport]struct{})
)

// Registry implements core.EndpointRegistry against the process-wide
// table. It carries no state itself: the table is a package-level
// singleton, matching the "process-wide" requirement.
type Registry struct{}

func New() Registry { return Registry{} }

func (Registry) Register(t *core.Transport) {
	mu.Lock()
	defer mu.Unlock()
	endpoints[t] = struct{}{}
}

func (Registry) Unregister(t *core.Transport) {
	mu.Lock()
	defer mu.Unlock()
	delete(endpoints, t)
}

// Len reports how many endpoints are currently registered, for
// diagnostics and tests.
func Len() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(endpoints)
}

// Each calls f for every registered endpoint, holding the read lock
// for the duration. f must not call back into Register/Unregister.
func Each(f func(*core.Transport)) {
	mu.RLock()
	defer mu.RUnlock()
	for t := range endpoints {
		f(t)
	}
}

// Shutdown destroys every registered endpoint, used for process
// teardown (spec §9: "explicit init/teardown").
func Shutdown(flush bool) {
	mu.RLock()
	snapshot := make([]*core.Transport, 0, len(endpoints))
	for t := range endpoints {
		snapshot = append(snapshot, t)
	}
	mu.RUnlock()
	for _, t := range snapshot {
		_ = t.Destroy(flush)
	}
}
