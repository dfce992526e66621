// Package timer implements the monotonic due-time dispatcher from
// spec §4.6, with next_poll exposed as the minimum due time across all
// registered timers (NextDue). The endpoint registers only its ambient
// SPM timer here: it schedules no heartbeat SPMs, and per-peer NAK
// timeouts are serviced by the endpoint's timer loop, not by wheel
// entries.
package timer

import (
	"sync"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

type entry struct {
	next     time.Time
	interval time.Duration
	repeat   bool
	fn       func(time.Time)
}

// Wheel is a flat due-time dispatcher. Entry counts in a PGM endpoint
// are small, so an unordered scan of every timer on Tick is preferable
// to a bucketed wheel's bookkeeping overhead.
type Wheel struct {
	mu      sync.Mutex
	timers  map[string]*entry
	log     types.Logger
}

func New(log types.Logger) *Wheel {
	return &Wheel{timers: make(map[string]*entry), log: log}
}

// Schedule registers a one-shot timer firing at `at`.
func (w *Wheel) Schedule(id string, at time.Time, fn func(time.Time)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timers[id] = &entry{next: at, fn: fn}
}

// ScheduleRepeating registers a timer that re-arms itself every
// interval after firing (e.g. ambient SPM, spec §4.6).
func (w *Wheel) ScheduleRepeating(id string, first time.Time, interval time.Duration, fn func(time.Time)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timers[id] = &entry{next: first, interval: interval, repeat: true, fn: fn}
}

// Reschedule moves an existing timer's next fire time; an id that is
// not registered is ignored. The endpoint uses it to push back its
// ambient SPM after a NAK.
func (w *Wheel) Reschedule(id string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.timers[id]; ok {
		e.next = at
	}
}

// Cancel removes a timer, e.g. when a NAK resolves before its timeout.
func (w *Wheel) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.timers, id)
}

// NextDue returns the minimum due time across all registered timers,
// and ok=false if none are registered (spec §4.6 next_poll).
func (w *Wheel) NextDue() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var min time.Time
	found := false
	for _, e := range w.timers {
		if !found || e.next.Before(min) {
			min = e.next
			found = true
		}
	}
	return min, found
}

// Tick fires every timer due at or before now. Repeating timers are
// re-armed for now+interval; fn is invoked outside the wheel's lock
// so callbacks may themselves call back into the wheel.
func (w *Wheel) Tick(now time.Time) {
	w.mu.Lock()
	var due []*entry
	for id, e := range w.timers {
		if !e.next.After(now) {
			due = append(due, e)
			if e.repeat {
				e.next = now.Add(e.interval)
			} else {
				delete(w.timers, id)
			}
		}
	}
	w.mu.Unlock()

	for _, e := range due {
		e.fn(now)
	}
}

// Len reports the number of registered timers, for tests.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}
