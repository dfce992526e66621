// Package rate implements the token-bucket admission control from
// spec §4.3, built on golang.org/x/time/rate so the lazy-refill
// arithmetic and burst accounting are not hand-rolled.
package rate

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// headerOverhead approximates the IP/UDP bytes spent per packet that
// the configured bytes-per-second budget must also cover (spec §4.3:
// "refill rate = configured bytes-per-second plus IP/UDP header
// overhead per packet").
const headerOverhead = 28 // 20 bytes IPv4 + 8 bytes UDP, worst case for encapsulated mode

// Regulator paces outbound bytes to a configured rate. It is the leaf
// of the endpoint's mutex hierarchy (spec §4.1): it holds only its own
// internal lock and is never held while acquiring another.
type Regulator struct {
	limiter *rate.Limiter
	perPkt  int
}

// NewRegulator builds a regulator for the given bytes-per-second rate
// and maximum burst (spec §4.3 capacity = max burst).
func NewRegulator(bytesPerSecond int, burst int) *Regulator {
	return &Regulator{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		perPkt:  headerOverhead,
	}
}

// Check consults and, on success, depletes the bucket by len bytes
// plus per-packet header overhead. Nonblocking callers get an
// immediate would-block without depleting if insufficient tokens are
// available (spec §4.3). Blocking callers wait for tokens to refill —
// the rate regulator's own documented suspension point, needed to
// uphold testable property #4 (admitted bytes bounded by rate·W+burst)
// for callers that never go nonblocking.
func (r *Regulator) Check(ctx context.Context, length int, nonblocking bool) *types.Error {
	n := length + r.perPkt
	now := time.Now()
	if nonblocking {
		if !r.limiter.AllowN(now, n) {
			return types.WouldBlock("rate regulator: insufficient tokens for %d bytes", n)
		}
		return nil
	}

	reservation := r.limiter.ReserveN(now, n)
	if !reservation.OK() {
		return types.Invalid("rate regulator: burst too small for request of %d bytes", n)
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return types.BadState("rate regulator: wait cancelled")
	}
}

// SetRate reconfigures the pacing rate and burst. Nothing in the
// endpoint calls it; the endpoint's rate is the one set at creation.
func (r *Regulator) SetRate(bytesPerSecond int, burst int) {
	r.limiter.SetLimit(rate.Limit(bytesPerSecond))
	r.limiter.SetBurst(burst)
}
