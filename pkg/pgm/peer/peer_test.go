package peer

import (
	"testing"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

type fakeEmitter struct {
	calls []types.Sqn
}

func (f *fakeEmitter) EmitNak(tsi types.TSI, sqn types.Sqn) *types.Error {
	f.calls = append(f.calls, sqn)
	return nil
}

func TestEmitNakDelegatesToEndpointBackReference(t *testing.T) {
	emitter := &fakeEmitter{}
	p := newPeer(types.TSI{}, nil, nil, emitter)

	if err := p.EmitNak(5); err != nil {
		t.Fatalf("emit nak: %v", err)
	}
	if len(emitter.calls) != 1 || emitter.calls[0] != 5 {
		t.Fatalf("expected emitter to receive sqn 5, got %v", emitter.calls)
	}
}

func TestTouchUpdatesLastHeard(t *testing.T) {
	p := newPeer(types.TSI{}, nil, nil, &fakeEmitter{})
	before := p.LastHeard()
	p.Touch()
	if !p.LastHeard().After(before) && p.LastHeard() != before {
		t.Fatalf("expected LastHeard to advance or stay equal, never regress")
	}
}

func TestHoldAndReleaseTrackRefcount(t *testing.T) {
	p := newPeer(types.TSI{}, nil, nil, &fakeEmitter{})
	if p.refs() != 1 {
		t.Fatalf("expected initial refcount 1, got %d", p.refs())
	}
	p.hold()
	if p.refs() != 2 {
		t.Fatalf("expected refcount 2 after hold, got %d", p.refs())
	}
	if remaining := p.release(); remaining != 1 {
		t.Fatalf("expected remaining 1 after release, got %d", remaining)
	}
	if remaining := p.release(); remaining != 0 {
		t.Fatalf("expected remaining 0 after final release, got %d", remaining)
	}
}
