package peer

import (
	"net"
	"sync"

	"github.com/jabolina/go-pgm/pkg/pgm/rxw"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// RxwFactory builds a fresh receive window for a newly discovered
// peer; supplied by the transport core so the peer package stays
// ignorant of endpoint-wide sizing/FEC configuration.
type RxwFactory func(tsi types.TSI) (*rxw.Window, *types.Error)

// Table is the transport-owned map of TSI to Peer (spec §3 Ownership:
// "each peer is exclusively owned by the peer table"). Guarded by its
// own reader/writer lock: readers are the delivery path, writers are
// insert/evict (spec §5).
type Table struct {
	mu      sync.RWMutex
	peers   map[[8]byte]*Peer
	factory RxwFactory
	emitter NakEmitter
	log     types.Logger
	metrics types.MetricsSink
}

func NewTable(factory RxwFactory, emitter NakEmitter, log types.Logger, metrics types.MetricsSink) *Table {
	return &Table{
		peers:   make(map[[8]byte]*Peer),
		factory: factory,
		emitter: emitter,
		log:     log,
		metrics: metrics,
	}
}

// Borrow returns the peer for tsi, creating it on first reception
// (spec §3 Peer lifetime), and increments its reference count. The
// caller must call Release when done; the reference must not outlive
// a single delivery (spec §3 Ownership).
func (t *Table) Borrow(tsi types.TSI, nla net.IP) (*Peer, *types.Error) {
	key := tsi.Bytes()

	t.mu.RLock()
	p, ok := t.peers[key]
	if ok {
		p.hold()
		t.mu.RUnlock()
		return p, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[key]; ok {
		p.hold()
		return p, nil
	}
	window, err := t.factory(tsi)
	if err != nil {
		return nil, err
	}
	np := newPeer(tsi, nla, window, t.emitter)
	t.peers[key] = np
	if t.metrics != nil {
		t.metrics.ObserveGauge("peer_table_size", float64(len(t.peers)), nil)
	}
	t.log.Infof("peer table: new peer %s", tsi)
	return np, nil
}

// Release returns a borrowed reference. If the peer was marked for
// eviction and this was the last outstanding hold, it is removed from
// the table (spec §3 Peer lifetime: "destroyed when refcount drops to
// zero").
func (t *Table) Release(p *Peer) {
	remaining := p.release()
	if remaining > 0 {
		return
	}
	t.mu.Lock()
	if p.refs() <= 0 {
		delete(t.peers, p.TSI.Bytes())
	}
	t.mu.Unlock()
}

// Evict marks a peer for removal, e.g. after its window has fully
// expired with no outstanding hold. If no one currently holds it, it
// is removed immediately.
func (t *Table) Evict(tsi types.TSI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := tsi.Bytes()
	p, ok := t.peers[key]
	if !ok {
		return
	}
	if p.refs() <= 1 {
		delete(t.peers, key)
		return
	}
}

// Lookup returns a peer without taking a hold, for read-only
// introspection (admin/metrics paths only — never for delivery).
func (t *Table) Lookup(tsi types.TSI) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[tsi.Bytes()]
	return p, ok
}

// Len reports the current peer count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// Each calls f for every peer, holding the read lock for the
// duration. f must not call back into the table.
func (t *Table) Each(f func(*Peer)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.peers {
		f(p)
	}
}

// Shutdown drains every peer from the table, used by destroy() after
// senders have been drained (spec §4.1 destroy).
func (t *Table) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[[8]byte]*Peer)
}
