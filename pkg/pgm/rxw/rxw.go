// Package rxw implements the per-peer receive window from spec §3:
// reassembly ordering, gap tracking, and the state machine that NAK
// scheduling and timeouts drive (missing -> NAK-pending -> received ->
// delivered, or -> lost).
package rxw

import (
	"sync"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/fec"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// State is one receive-window entry's lifecycle stage (spec §3).
type State int

const (
	Missing State = iota
	NakPending
	ReceivedData
	ReceivedParity
	Delivered
	Lost
)

type entry struct {
	state     State
	payload   []byte
	isParity  bool
	tgSqn     types.Sqn
	parityIdx int
	fragment  *types.OptionFragment
	nakSentAt time.Time
	naksSent  int
}

// Window is the receive window for a single peer.
type Window struct {
	mu sync.RWMutex

	capacity uint32
	slots    []entry

	trail types.Sqn
	lead  types.Sqn

	fecInfo types.FecInfo
	engine  *fec.Engine

	log types.Logger
}

type Config struct {
	Capacity   uint32
	InitialSqn types.Sqn
	Fec        types.FecInfo
	Log        types.Logger
}

func New(cfg Config) (*Window, *types.Error) {
	if cfg.Capacity == 0 {
		return nil, types.Invalid("rxw: capacity must be positive")
	}
	w := &Window{
		capacity: cfg.Capacity,
		slots:    make([]entry, cfg.Capacity),
		trail:    cfg.InitialSqn,
		lead:     cfg.InitialSqn - 1,
		fecInfo:  cfg.Fec,
		log:      cfg.Log,
	}
	if cfg.Fec.Enabled {
		engine, err := fec.NewEngine(cfg.Fec.N, cfg.Fec.K)
		if err != nil {
			return nil, err
		}
		w.engine = engine
	}
	return w, nil
}

func (w *Window) index(sqn types.Sqn) uint32 {
	return uint32(sqn) % w.capacity
}

// advanceLeadLocked grows the window up to sqn, marking newly-exposed slots
// Missing so they become NAK candidates (spec §3 state set). Caller
// must hold the write lock.
func (w *Window) advanceLeadLocked(sqn types.Sqn) {
	if !w.lead.Precedes(sqn) {
		return
	}
	for s := w.lead.Add(1); ; s = s.Add(1) {
		w.slots[w.index(s)] = entry{state: Missing}
		if s == sqn {
			break
		}
	}
	w.lead = sqn
}

// OnData records an arriving ODATA/RDATA/parity TPDU. fragment is the
// opt_fragment this TPDU carried, if any; it is retained per-entry so
// a gap-fill drain that releases several entries at once hands each
// one its own reassembly metadata instead of the last-arrived packet's
// (spec §3 delivered state, §5 per-peer in-sqn-order delivery). It
// returns the run of newly in-order, ready-to-deliver payloads starting
// at the (possibly advanced) trail.
func (w *Window) OnData(sqn types.Sqn, payload []byte, isParity bool, tgSqn types.Sqn, parityIdx int, fragment *types.OptionFragment) []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.advanceLeadLocked(sqn)
	idx := w.index(sqn)
	if w.slots[idx].state == Delivered {
		return nil
	}
	w.slots[idx] = entry{
		state:     stateFor(isParity),
		payload:   append([]byte(nil), payload...),
		isParity:  isParity,
		tgSqn:     tgSqn,
		parityIdx: parityIdx,
		fragment:  fragment,
	}

	if w.engine != nil {
		w.tryRecoverGroupLocked(tgSqn)
	}

	return w.drainLocked()
}

func stateFor(isParity bool) State {
	if isParity {
		return ReceivedParity
	}
	return ReceivedData
}

// tryRecoverGroupLocked attempts FEC recovery for the transmission
// group starting at tgSqn once enough data+parity symbols have
// arrived (spec §4.5 decode_parity_appended). Caller holds write lock.
func (w *Window) tryRecoverGroupLocked(tgSqn types.Sqn) {
	k, h := w.fecInfo.K, w.fecInfo.N-w.fecInfo.K
	dataBlocks := make([][]byte, k)
	erasures := make([]bool, k+h)
	missing := 0
	for i := 0; i < k; i++ {
		e := w.slots[w.index(tgSqn.Add(uint32(i)))]
		if e.state == ReceivedData || e.state == Delivered {
			dataBlocks[i] = e.payload
		} else {
			erasures[i] = true
			missing++
		}
	}
	if missing == 0 {
		return
	}
	parityBlocks := make([][]byte, h)
	available := 0
	for i := 0; i < h; i++ {
		e := w.slots[w.index(tgSqn.Add(uint32(k + i)))]
		if e.state == ReceivedParity {
			parityBlocks[i] = e.payload
			available++
		} else {
			erasures[k+i] = true
		}
	}
	if available < missing {
		return // not enough parity yet to recover
	}
	for i := range dataBlocks {
		if dataBlocks[i] == nil {
			dataBlocks[i] = make([]byte, w.maxPayloadLenLocked(tgSqn, k))
		}
	}
	for i := range parityBlocks {
		if parityBlocks[i] == nil {
			parityBlocks[i] = make([]byte, len(dataBlocks[0]))
		}
	}
	if err := w.engine.DecodeParityAppended(dataBlocks, parityBlocks, erasures); err != nil {
		w.log.Debugf("rxw: fec recovery failed for group %d: %v", tgSqn, err)
		return
	}
	for i := 0; i < k; i++ {
		if erasures[i] {
			sqn := tgSqn.Add(uint32(i))
			// RS decode only reconstructs the raw payload bytes, not the
			// original packet's opt_fragment, so a recovered entry always
			// delivers with fragment == nil.
			w.slots[w.index(sqn)] = entry{state: ReceivedData, payload: dataBlocks[i]}
		}
	}
}

func (w *Window) maxPayloadLenLocked(tgSqn types.Sqn, k int) int {
	max := 0
	for i := 0; i < k; i++ {
		if p := w.slots[w.index(tgSqn.Add(uint32(i)))].payload; len(p) > max {
			max = len(p)
		}
	}
	return max
}

// Delivery is one payload released to the application, in sqn order.
// Fragment is that entry's own opt_fragment (nil for a standalone APDU
// or an FEC-recovered entry, which carries no recoverable option),
// never the option of whatever packet triggered this drain.
type Delivery struct {
	Sqn      types.Sqn
	Payload  []byte
	Fragment *types.OptionFragment
}

// drainLocked releases the contiguous run of received entries at the
// trail, marking each Delivered and advancing trail past them.
func (w *Window) drainLocked() []Delivery {
	var out []Delivery
	for !w.lead.Precedes(w.trail) {
		idx := w.index(w.trail)
		e := w.slots[idx]
		if e.state != ReceivedData && e.state != ReceivedParity {
			break
		}
		if !e.isParity {
			out = append(out, Delivery{Sqn: w.trail, Payload: e.payload, Fragment: e.fragment})
		}
		w.slots[idx].state = Delivered
		w.trail = w.trail.Add(1)
	}
	return out
}

// MarkNakPending transitions a missing entry so the timer subsystem
// knows a NAK is outstanding (spec §4.6 NAK timeouts).
func (w *Window) MarkNakPending(sqn types.Sqn, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := w.index(sqn)
	if w.slots[idx].state == Missing {
		w.slots[idx].state = NakPending
		w.slots[idx].nakSentAt = now
		w.slots[idx].naksSent++
	}
}

// MarkLost transitions a NakPending entry to Lost. The endpoint's
// timer loop does not call it, so an unresolved entry stays NakPending
// and is re-NAKed every repeat interval.
func (w *Window) MarkLost(sqn types.Sqn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := w.index(sqn)
	if w.slots[idx].state == NakPending {
		w.slots[idx].state = Lost
	}
}

// PendingNaks returns every sqn currently Missing or whose NAK has
// been outstanding longer than ivl, for the endpoint's timer loop to
// NAK again (spec §4.6 repeat-NAK wait).
func (w *Window) PendingNaks(now time.Time, ivl time.Duration) []types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []types.Sqn
	if w.lead.Precedes(w.trail) {
		return out
	}
	count := uint32(w.lead-w.trail) + 1
	for i := uint32(0); i < count; i++ {
		sqn := w.trail.Add(i)
		e := w.slots[w.index(sqn)]
		switch e.state {
		case Missing:
			out = append(out, sqn)
		case NakPending:
			if now.Sub(e.nakSentAt) >= ivl {
				out = append(out, sqn)
			}
		}
	}
	return out
}

func (w *Window) Trail() types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.trail
}

func (w *Window) Lead() types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lead
}

// State reports the lifecycle stage of a given sqn, for tests and
// introspection.
func (w *Window) State(sqn types.Sqn) State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if sqn.Precedes(w.trail) {
		return Delivered
	}
	if w.lead.Precedes(sqn) {
		return Missing
	}
	return w.slots[w.index(sqn)].state
}
