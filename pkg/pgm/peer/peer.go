// Package peer implements the peer table from spec §3: per-source
// receive state, reference-counted borrows, and destruction when a
// peer's last window eviction coincides with no outstanding hold.
package peer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/rxw"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// NakEmitter is the peer's non-owning back-reference to its parent
// endpoint (spec §9 design note: cyclic back-references are modeled
// as a non-owning reference because the endpoint outlives all peers
// by construction — destroy drains peers first).
type NakEmitter interface {
	EmitNak(tsi types.TSI, sqn types.Sqn) *types.Error
}

// Peer holds the receive-side state for one remote source (spec §3).
// Application code may hold a Peer only for the duration of a single
// delivery callback; retaining it past that point is a programmer
// error the design does not protect against (spec §3 Ownership).
type Peer struct {
	TSI types.TSI

	mu        sync.RWMutex
	lastHeard time.Time
	nla       net.IP

	Rxw *rxw.Window

	refCount int32
	evicting int32

	emitter NakEmitter
}

func newPeer(tsi types.TSI, nla net.IP, rxw *rxw.Window, emitter NakEmitter) *Peer {
	return &Peer{
		TSI:       tsi,
		lastHeard: time.Now(),
		nla:       nla,
		Rxw:       rxw,
		refCount:  1,
		emitter:   emitter,
	}
}

// Touch records fresh activity from this peer (SPM or data arrival).
func (p *Peer) Touch() {
	p.mu.Lock()
	p.lastHeard = time.Now()
	p.mu.Unlock()
}

func (p *Peer) LastHeard() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastHeard
}

func (p *Peer) NLA() net.IP {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nla
}

func (p *Peer) SetNLA(nla net.IP) {
	p.mu.Lock()
	p.nla = nla
	p.mu.Unlock()
}

// EmitNak requests retransmission of sqn from this peer's source,
// delegating to the endpoint via the non-owning back-reference.
func (p *Peer) EmitNak(sqn types.Sqn) *types.Error {
	return p.emitter.EmitNak(p.TSI, sqn)
}

func (p *Peer) hold() {
	atomic.AddInt32(&p.refCount, 1)
}

func (p *Peer) release() int32 {
	return atomic.AddInt32(&p.refCount, -1)
}

func (p *Peer) refs() int32 {
	return atomic.LoadInt32(&p.refCount)
}
