package rxw

import (
	"testing"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/definition"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func newTestWindow(t *testing.T, cfg Config) *Window {
	t.Helper()
	if cfg.Log == nil {
		cfg.Log = definition.NewLogger("test")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 32
	}
	if cfg.InitialSqn == 0 {
		cfg.InitialSqn = 1
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return w
}

func TestInOrderDeliveryDrainsImmediately(t *testing.T) {
	w := newTestWindow(t, Config{})
	deliveries := w.OnData(1, []byte("a"), false, 0, 0, nil)
	if len(deliveries) != 1 || string(deliveries[0].Payload) != "a" {
		t.Fatalf("expected immediate delivery of sqn 1, got %v", deliveries)
	}
}

func TestOutOfOrderWaitsForGapFill(t *testing.T) {
	w := newTestWindow(t, Config{})
	if d := w.OnData(2, []byte("b"), false, 0, 0, nil); len(d) != 0 {
		t.Fatalf("sqn 2 must not deliver before sqn 1 arrives, got %v", d)
	}
	d := w.OnData(1, []byte("a"), false, 0, 0, nil)
	if len(d) != 2 {
		t.Fatalf("filling the gap must release both sqn 1 and 2, got %d deliveries", len(d))
	}
	if string(d[0].Payload) != "a" || string(d[1].Payload) != "b" {
		t.Fatalf("deliveries out of order: %v", d)
	}
}

func TestDuplicateDeliveryIgnored(t *testing.T) {
	w := newTestWindow(t, Config{})
	w.OnData(1, []byte("a"), false, 0, 0, nil)
	d := w.OnData(1, []byte("a"), false, 0, 0, nil)
	if len(d) != 0 {
		t.Fatalf("re-delivering an already-delivered sqn must not redeliver: %v", d)
	}
}

func TestFecDoesNotRecoverFromMismatchedParityLength(t *testing.T) {
	w := newTestWindow(t, Config{Fec: types.FecInfo{Enabled: true, N: 6, K: 4}})
	// sqn 1..4 form the data group, 5..6 are parity, tgSqn=1.
	w.OnData(1, []byte("aaaa"), false, 1, 0, nil)
	// sqn 2 lost.
	w.OnData(3, []byte("cccc"), false, 1, 0, nil)
	w.OnData(4, []byte("dddd"), false, 1, 0, nil)

	// Feed placeholder parity to exercise the non-recovery path: one
	// parity block would cover the one missing data block, but the
	// 7-byte placeholder does not match the 4-byte data blocks, so the
	// RS decode rejects the shard sizes and nothing is recovered.
	d := w.OnData(5, []byte("parityA"), true, 1, 0, nil)
	if len(d) != 0 {
		t.Fatalf("sqn 2 still missing; nothing should drain yet: %v", d)
	}
	if w.State(2) != Missing {
		t.Fatalf("expected sqn 2 still Missing pending recovery, got %v", w.State(2))
	}
}

func TestGapFillDrainPreservesPerEntryFragment(t *testing.T) {
	w := newTestWindow(t, Config{})
	frag1 := &types.OptionFragment{FirstSqn: 1, FragmentOffset: 0, ApduLength: 30}
	frag3 := &types.OptionFragment{FirstSqn: 1, FragmentOffset: 20, ApduLength: 30}
	frag2 := &types.OptionFragment{FirstSqn: 1, FragmentOffset: 10, ApduLength: 30}

	if d := w.OnData(1, []byte("aaaaaaaaaa"), false, 0, 0, frag1); len(d) != 1 || d[0].Fragment != frag1 {
		t.Fatalf("sqn 1 is in order and must drain at once carrying frag1, got %v", d)
	}
	if d := w.OnData(3, []byte("cccccccccc"), false, 0, 0, frag3); len(d) != 0 {
		t.Fatalf("sqn 3 must not drain before sqn 2 fills the gap, got %v", d)
	}

	// Filling sqn 2 releases 2 and 3 together; each delivery must
	// carry its own arrival's fragment option, not sqn 2's.
	d := w.OnData(2, []byte("bbbbbbbbbb"), false, 0, 0, frag2)
	if len(d) != 2 {
		t.Fatalf("expected sqns 2 and 3 to drain together, got %d", len(d))
	}
	if d[0].Fragment != frag2 {
		t.Fatalf("delivery for sqn 2 must carry frag2, got %v", d[0].Fragment)
	}
	if d[1].Fragment != frag3 {
		t.Fatalf("delivery for sqn 3 must carry frag3 (not frag2, the triggering packet's option), got %v", d[1].Fragment)
	}
}

func TestPendingNaksReportsGapsAndRepeats(t *testing.T) {
	w := newTestWindow(t, Config{})
	w.OnData(3, []byte("c"), false, 0, 0, nil) // opens a gap at sqn 1,2
	now := time.Now()
	pending := w.PendingNaks(now, time.Second)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending naks for the gap, got %d: %v", len(pending), pending)
	}

	w.MarkNakPending(pending[0], now)
	later := now.Add(2 * time.Second)
	repeat := w.PendingNaks(later, time.Second)
	found := false
	for _, s := range repeat {
		if s == pending[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nak-pending sqn past its interval to repeat")
	}
}
