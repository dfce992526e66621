// Package txw implements the transmit window from spec §4.2: an
// indexed circular buffer of in-flight PGM data, retention, selective
// retransmission, and proactive/on-demand FEC parity generation over
// transmission groups.
package txw

import (
	"math"
	"sync"

	"github.com/jabolina/go-pgm/pkg/pgm/fec"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Entry is one retained transmit-window slot (spec §3).
type Entry struct {
	Sqn         types.Sqn
	Payload     []byte
	TrailAtSend types.Sqn
	TgSqn       types.Sqn
	IsParity    bool
	ParityIdx   int
	Fragment    *types.OptionFragment
}

// Window is the per-endpoint transmit window. Reader/writer locked:
// readers are retransmit lookups, writers are push/rollback/eviction
// (spec §5).
type Window struct {
	mu sync.RWMutex

	tsi      types.TSI
	tpdu     int
	capacity uint32
	slots    []*Entry

	trail types.Sqn
	lead  types.Sqn

	fecInfo    types.FecInfo
	engine     *fec.Engine
	groupFirst types.Sqn
	groupData  [][]byte

	log     types.Logger
	metrics types.MetricsSink
}

// Config bundles the create() parameters from spec §4.2.
type Config struct {
	TSI        types.TSI
	Tpdu       int
	Sqns       uint32 // count-based capacity; 0 means time-based
	Secs       float64
	MaxRteBps  uint32
	InitialSqn types.Sqn
	Fec        types.FecInfo
	Log        types.Logger
	Metrics    types.MetricsSink
}

// New creates a transmit window. If Sqns is zero, capacity is derived
// from Secs*MaxRteBps/Tpdu rounded up (spec §4.2 create).
func New(cfg Config) (*Window, *types.Error) {
	capacity := cfg.Sqns
	if capacity == 0 {
		if cfg.Tpdu <= 0 {
			return nil, types.Invalid("txw: tpdu must be positive")
		}
		capacity = uint32(math.Ceil(cfg.Secs * float64(cfg.MaxRteBps) / float64(cfg.Tpdu)))
	}
	if capacity == 0 {
		return nil, types.Invalid("txw: resolved capacity is zero")
	}
	w := &Window{
		tsi:      cfg.TSI,
		tpdu:     cfg.Tpdu,
		capacity: capacity,
		slots:    make([]*Entry, capacity),
		trail:    cfg.InitialSqn - 1,
		lead:     cfg.InitialSqn - 1,
		fecInfo:  cfg.Fec,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
	}
	if cfg.Fec.Enabled {
		engine, err := fec.NewEngine(cfg.Fec.N, cfg.Fec.K)
		if err != nil {
			return nil, err
		}
		w.engine = engine
		w.groupFirst = cfg.InitialSqn
	}
	return w, nil
}

func (w *Window) index(sqn types.Sqn) uint32 {
	return uint32(sqn) % w.capacity
}

// Lead returns the last assigned sqn (testable property #1/#2 helpers).
func (w *Window) Lead() types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lead
}

// Trail returns the trailing edge.
func (w *Window) Trail() types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.trail
}

// NextSqn previews the sqn the next Push would assign, used by the
// caller to snapshot pkt_dontwait_state.first_sqn before fragmenting
// an APDU (spec §4.2 APDU EAGAIN rollback).
func (w *Window) NextSqn() types.Sqn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lead + 1
}

// evictLocked advances trail by one, releasing the slot it vacates.
// Caller must hold the write lock.
func (w *Window) evictLocked() {
	w.trail++
	w.slots[w.index(w.trail)] = nil
}

// pushLocked stores payload at the next sqn, evicting the oldest
// retained entry if the window is already full. Caller must hold the
// write lock.
func (w *Window) pushLocked(e Entry) types.Sqn {
	sqn := w.lead + 1
	e.Sqn = sqn
	if uint32(w.lead-w.trail) >= w.capacity && w.lead >= w.trail {
		w.evictLocked()
	}
	w.slots[w.index(sqn)] = &e
	w.lead = sqn
	return sqn
}

// Push assigns the next sqn to payload, retains it, and advances lead
// (spec §4.2 push, testable property #2). fragment, if non-nil, is the
// opt_fragment this TPDU was sent with; it is retained alongside the
// payload so a later retransmit can reattach the same reassembly
// metadata (spec §3 APDU, §6 opt_fragment). When FEC is enabled and
// proactive, completing a k-sized transmission group immediately
// builds and pushes all proactive_h parity entries, each tagged with
// the group's first sqn (spec §3 TXW entry invariant (c)).
func (w *Window) Push(payload []byte, fragment *types.OptionFragment) (types.Sqn, *types.Error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cp := append([]byte(nil), payload...)
	sqn := w.pushLocked(Entry{Payload: cp, TrailAtSend: w.trail, Fragment: fragment})
	if w.metrics != nil {
		w.metrics.ObserveGauge("txw_depth", float64(w.lead-w.trail+1), map[string]string{"tsi": w.tsi.String()})
	}

	if w.engine == nil {
		return sqn, nil
	}
	if len(w.groupData) == 0 {
		w.groupFirst = sqn
	}
	w.groupData = append(w.groupData, cp)
	if len(w.groupData) == w.fecInfo.K {
		groupFirst := w.groupFirst
		data := w.groupData
		w.groupData = nil
		if w.fecInfo.UseOndemandParity && !proactiveParity(w.fecInfo) {
			return sqn, nil
		}
		parity, ferr := w.engine.Encode(data)
		if ferr != nil {
			w.log.Errorf("txw: proactive parity build failed for group %d: %v", groupFirst, ferr)
			return sqn, nil
		}
		h := w.fecInfo.ProactiveH
		if h > len(parity) {
			h = len(parity)
		}
		for i, block := range parity[:h] {
			w.pushLocked(Entry{Payload: block, TrailAtSend: w.trail, TgSqn: groupFirst, IsParity: true, ParityIdx: i})
		}
	}
	return sqn, nil
}

func proactiveParity(f types.FecInfo) bool {
	return f.ProactiveH > 0
}

// Peek returns the retained payload for sqn, or ok=false if it has
// been evicted or was never assigned (spec §4.2 peek).
func (w *Window) Peek(sqn types.Sqn) (Entry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if sqn.Precedes(w.trail) || w.lead.Precedes(sqn) {
		return Entry{}, false
	}
	e := w.slots[w.index(sqn)]
	if e == nil || e.Sqn != sqn {
		return Entry{}, false
	}
	return *e, true
}

// Retransmit returns the payload suitable for resend as RDATA (spec
// §4.2 retransmit), or ok=false if the sqn is no longer retained
// ("unavailable" per §4.2 push retention policy).
func (w *Window) Retransmit(sqn types.Sqn) (Entry, bool) {
	return w.Peek(sqn)
}

// BuildParity on-demand RS-encodes the parity symbol at parityIndex
// for the k data sqns starting at tgSqn (spec §4.2 build_parity,
// §4.5 encode). Returns unavailable if any data block in the group
// has already been evicted.
func (w *Window) BuildParity(tgSqn types.Sqn, parityIndex int) ([]byte, *types.Error) {
	if w.engine == nil {
		return nil, types.Invalid("txw: fec not enabled")
	}
	w.mu.RLock()
	blocks := make([][]byte, w.fecInfo.K)
	for i := 0; i < w.fecInfo.K; i++ {
		sqn := tgSqn.Add(uint32(i))
		if sqn.Precedes(w.trail) || w.lead.Precedes(sqn) {
			w.mu.RUnlock()
			return nil, types.Resource(nil, "txw: data sqn %d for group %d unavailable", sqn, tgSqn)
		}
		e := w.slots[w.index(sqn)]
		if e == nil || e.Sqn != sqn || e.IsParity {
			w.mu.RUnlock()
			return nil, types.Resource(nil, "txw: data sqn %d for group %d unavailable", sqn, tgSqn)
		}
		blocks[i] = e.Payload
	}
	w.mu.RUnlock()
	return w.engine.EncodeOne(blocks, parityIndex)
}

// RollbackTo invalidates every entry from firstSqn to the current
// lead and resets lead to firstSqn-1 (spec §4.2 APDU EAGAIN rollback,
// testable property #3). Performed under the write lock so a
// concurrent Push loses the tie-break, matching the spec's eviction
// tie-break rule.
func (w *Window) RollbackTo(firstSqn types.Sqn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if firstSqn.LessEq(w.lead) {
		count := uint32(w.lead-firstSqn) + 1
		for i := uint32(0); i < count; i++ {
			w.slots[w.index(firstSqn.Add(i))] = nil
		}
	}
	w.lead = firstSqn - 1
	w.groupData = nil
}

// Shutdown releases every retained payload (spec §4.2 shutdown).
func (w *Window) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.slots {
		w.slots[i] = nil
	}
	w.groupData = nil
}
