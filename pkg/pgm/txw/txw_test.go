package txw

import (
	"testing"

	"github.com/jabolina/go-pgm/pkg/pgm/definition"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func newTestWindow(t *testing.T, cfg Config) *Window {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = definition.NewLogger("test")
	}
	if cfg.InitialSqn == 0 {
		cfg.InitialSqn = 1
	}
	if cfg.Tpdu == 0 {
		cfg.Tpdu = 1500
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	return w
}

func TestPushAssignsMonotonicSqns(t *testing.T) {
	w := newTestWindow(t, Config{Sqns: 8})
	var last types.Sqn
	for i := 0; i < 5; i++ {
		sqn, err := w.Push([]byte("x"), nil)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		if i > 0 && sqn != last+1 {
			t.Fatalf("expected monotonic sqns: got %d after %d", sqn, last)
		}
		last = sqn
	}
}

func TestPushEvictsOldestWhenFull(t *testing.T) {
	w := newTestWindow(t, Config{Sqns: 2})
	first, _ := w.Push([]byte("a"), nil)
	w.Push([]byte("b"), nil)
	w.Push([]byte("c"), nil) // should evict `first`

	if _, ok := w.Peek(first); ok {
		t.Fatalf("expected sqn %d to have been evicted", first)
	}
}

func TestRollbackToInvalidatesTail(t *testing.T) {
	w := newTestWindow(t, Config{Sqns: 16})
	firstSqn := w.NextSqn()
	w.Push([]byte("a"), nil)
	w.Push([]byte("b"), nil)
	w.Push([]byte("c"), nil)

	w.RollbackTo(firstSqn)

	if lead := w.Lead(); lead != firstSqn-1 {
		t.Fatalf("expected lead reset to %d, got %d", firstSqn-1, lead)
	}
	if _, ok := w.Peek(firstSqn); ok {
		t.Fatalf("expected rolled back sqn to be gone")
	}

	// Window must be usable again after rollback.
	next, err := w.Push([]byte("d"), nil)
	if err != nil {
		t.Fatalf("push after rollback: %v", err)
	}
	if next != firstSqn {
		t.Fatalf("expected next push to reuse sqn %d, got %d", firstSqn, next)
	}
}

func TestProactiveParityGeneratedOnGroupCompletion(t *testing.T) {
	w := newTestWindow(t, Config{
		Sqns: 32,
		Fec:  types.FecInfo{Enabled: true, N: 6, K: 4, ProactiveH: 2},
	})
	var lastSqn types.Sqn
	for i := 0; i < 4; i++ {
		sqn, err := w.Push([]byte("data"), nil)
		if err != nil {
			t.Fatalf("push: %v", err)
		}
		lastSqn = sqn
	}
	// Two proactive parity entries should have been appended right
	// after the fourth data push, advancing lead by two more.
	if w.Lead() != lastSqn+2 {
		t.Fatalf("expected lead %d after proactive parity, got %d", lastSqn+2, w.Lead())
	}
	parityEntry, ok := w.Peek(lastSqn + 1)
	if !ok || !parityEntry.IsParity {
		t.Fatalf("expected sqn %d to be a parity entry", lastSqn+1)
	}
}

func TestRetransmitRetainsFragmentOption(t *testing.T) {
	w := newTestWindow(t, Config{Sqns: 16})
	frag := &types.OptionFragment{FirstSqn: w.NextSqn(), FragmentOffset: 100, ApduLength: 300}
	sqn, err := w.Push([]byte("chunk2"), frag)
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	entry, ok := w.Retransmit(sqn)
	if !ok {
		t.Fatalf("expected sqn %d to be retransmittable", sqn)
	}
	if entry.Fragment == nil || *entry.Fragment != *frag {
		t.Fatalf("expected retransmit to carry the original fragment option, got %v", entry.Fragment)
	}
}

func TestBuildParityUnavailableAfterEviction(t *testing.T) {
	w := newTestWindow(t, Config{
		Sqns: 4, // small enough that the group's own data gets evicted
		Fec:  types.FecInfo{Enabled: true, N: 6, K: 4, UseOndemandParity: true},
	})
	groupFirst := w.NextSqn()
	for i := 0; i < 4; i++ {
		w.Push([]byte("data"), nil)
	}
	// Push enough extra entries to evict the group's data out of the window.
	for i := 0; i < 4; i++ {
		w.Push([]byte("more"), nil)
	}
	if _, err := w.BuildParity(groupFirst, 0); err == nil {
		t.Fatalf("expected unavailable error after data eviction")
	}
}
