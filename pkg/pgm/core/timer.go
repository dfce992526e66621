package core

import (
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/peer"
)

// timerTick is the fixed period at which the event loop ticks the
// timer wheel and services NAKs; the wheel's NextDue is not consulted.
const timerTick = 100 * time.Millisecond

// reasmEvictEvery is how many timerTicks elapse between reassembler
// sweeps; the reassembler doesn't need the wheel's resolution, just
// enough headroom past a NAK's rdata/repeat/ncf timeouts to know a
// fragment is never coming.
const reasmEvictEvery = 50

func (t *Transport) timerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.wheel.Tick(now)
			t.serviceNaks(now)
			ticks++
			if ticks%reasmEvictEvery == 0 {
				t.reasm.EvictStale(t.reassemblyMaxAge())
			}
		}
	}
}

// reassemblyMaxAge bounds how long a partially-reassembled APDU is
// kept waiting for its missing fragment: long enough to outlast a
// full nak backoff/rdata/repeat/ncf cycle with margin.
func (t *Transport) reassemblyMaxAge() time.Duration {
	ivl := t.info.Timer.NakRdataIvl + t.info.Timer.NakRepeatIvl + t.info.Timer.NakNcfIvl
	return 5 * ivl
}

// serviceNaks asks every known peer's receive window which sqns need
// a NAK sent or re-sent, and emits one per pending gap (spec §4.6 NAK
// timeouts, backoff/repeat intervals).
func (t *Transport) serviceNaks(now time.Time) {
	if !t.info.Caps.CanSendNak || t.peers == nil {
		return
	}
	ivl := t.info.Timer.NakRepeatIvl
	t.peers.Each(func(p *peer.Peer) {
		for _, sqn := range p.Rxw.PendingNaks(now, ivl) {
			p.Rxw.MarkNakPending(sqn, now)
			if err := p.EmitNak(sqn); err != nil {
				t.log.Debugf("pgm: nak emit for %s sqn %d failed: %v", p.TSI, sqn, err)
			}
		}
	})
}
