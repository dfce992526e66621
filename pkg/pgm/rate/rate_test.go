package rate

import (
	"context"
	"testing"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func TestNonblockingCheckDoesNotDepleteOnFailure(t *testing.T) {
	r := NewRegulator(100, 100) // tiny bucket
	ctx := context.Background()

	// First call takes 40 bytes plus the 28-byte header overhead,
	// leaving 32 of the 100 tokens.
	if err := r.Check(ctx, 40, true); err != nil {
		t.Fatalf("first nonblocking check should succeed: %v", err)
	}
	// Second call should fail without blocking or taking any tokens.
	err := r.Check(ctx, 1000, true)
	if err == nil {
		t.Fatalf("expected would-block for oversized nonblocking request")
	}
	// The remaining tokens are untouched, so a request needing only the
	// 28-byte header overhead still fits.
	if err := r.Check(ctx, 0, true); err != nil {
		t.Fatalf("failed nonblocking check must not deplete the bucket: %v", err)
	}
}

func TestBlockingCheckWaitsForRefill(t *testing.T) {
	r := NewRegulator(1_000_000, 64) // 64 byte burst, generous rate
	ctx := context.Background()

	start := time.Now()
	if err := r.Check(ctx, 32, false); err != nil {
		t.Fatalf("first blocking check should not fail: %v", err)
	}
	if err := r.Check(ctx, 32, false); err != nil {
		t.Fatalf("second blocking check should succeed after at most a short wait: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("blocking check took unexpectedly long")
	}
}

func TestBlockingCheckRespectsContextCancellation(t *testing.T) {
	r := NewRegulator(1, 1100) // burst fits one 1000-byte request; extremely slow refill
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := r.Check(ctx, 1000, false); err != nil { // drain the burst
		t.Fatalf("first blocking check fits the burst and must not wait: %v", err)
	}
	err := r.Check(ctx, 1000, false)
	if err == nil || err.Kind != types.KindBadState {
		t.Fatalf("expected cancellation error for a wait far exceeding the deadline, got %v", err)
	}
}
