package core

import (
	"net"
	"sync"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/codec"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// pollInterval bounds how long recvLoop's ReadFrom blocks before
// rechecking the stop channel, since net.PacketConn has no select-able
// close signal.
const pollInterval = 250 * time.Millisecond

// fragKey identifies one APDU reassembly in flight.
type fragKey struct {
	tsi  [8]byte
	root types.Sqn
}

// reassembler joins TSDU fragments delivered in sqn order back into
// complete APDUs using the opt_fragment metadata every fragment of a
// transmission carries (spec §3 APDU, §6 opt_fragment).
type reassembler struct {
	mu      sync.Mutex
	pending map[fragKey]*pendingApdu
}

type pendingApdu struct {
	total     int
	buf       []byte
	lastTouch time.Time
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[fragKey]*pendingApdu)}
}

// Feed records one fragment's payload and returns the full APDU once
// every byte up to apduLength has arrived. Fragments are assumed to
// reach Feed in sqn order (rxw only drains contiguous runs), so a
// pending APDU is simply appended to by arrival order and closed once
// its buffer reaches apduLength; this ignores FragmentOffset and would
// misorder fragments delivered out of sqn order.
func (r *reassembler) Feed(tsi types.TSI, opt *types.OptionFragment, payload []byte) ([]byte, bool) {
	if opt == nil {
		return append([]byte(nil), payload...), true
	}
	key := fragKey{tsi: tsi.Bytes(), root: opt.FirstSqn}
	r.mu.Lock()
	defer r.mu.Unlock()
	pa, ok := r.pending[key]
	if !ok {
		pa = &pendingApdu{total: int(opt.ApduLength), buf: make([]byte, 0, opt.ApduLength)}
		r.pending[key] = pa
	}
	pa.buf = append(pa.buf, payload...)
	pa.lastTouch = time.Now()
	if len(pa.buf) >= pa.total {
		delete(r.pending, key)
		return pa.buf, true
	}
	return nil, false
}

// EvictStale drops any pending APDU whose last fragment arrived more
// than maxAge ago, e.g. because no RDATA ever arrived for its missing
// fragment. Without this a permanently lost fragment leaks its partial
// buffer forever.
func (r *reassembler) EvictStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, pa := range r.pending {
		if pa.lastTouch.Before(cutoff) {
			delete(r.pending, key)
		}
	}
}

func (t *Transport) recvLoop() {
	defer t.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		_ = t.sockets.Recv.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := t.sockets.Recv.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.stop:
				return
			default:
				t.log.Debugf("pgm: recv error: %v", err)
				continue
			}
		}
		pkt, perr := codec.Decode(buf[:n])
		if perr != nil {
			t.log.Debugf("pgm: discarding malformed packet from %s: %v", addr, perr)
			t.metrics.IncCounter("pgm_decode_errors", nil)
			continue
		}
		if pkt.Header.TSI() == t.info.TSI {
			continue // our own transmission, looped back
		}
		t.dispatch(pkt, addr)
	}
}

func (t *Transport) dispatch(pkt types.Packet, addr net.Addr) {
	switch pkt.Type {
	case types.TypeODATA, types.TypeRDATA:
		t.onData(pkt, addr)
	case types.TypeSPM:
		t.onSpm(pkt, addr)
	case types.TypeNAK:
		t.onNak(pkt)
	case types.TypeNCF:
		// NCFs are ignored: they neither suppress repeat NAKs nor move
		// any sqn to Lost.
	default:
		t.log.Debugf("pgm: ignoring packet type %s", pkt.Type)
	}
}

func (t *Transport) onData(pkt types.Packet, addr net.Addr) {
	if !t.info.Caps.CanRecvData || t.peers == nil {
		return
	}
	tsi := pkt.Header.TSI()
	p, err := t.peers.Borrow(tsi, nlaOf(addr))
	if err != nil {
		t.log.Warnf("pgm: peer table borrow failed for %s: %v", tsi, err)
		return
	}
	defer t.peers.Release(p)
	p.Touch()

	d := pkt.Data
	opt, _ := pkt.FragmentOption()
	deliveries := p.Rxw.OnData(d.Sqn, d.Payload, d.IsParity, d.TgSqn, d.ParityIdx, opt)
	for _, delivered := range deliveries {
		apdu, complete := t.reasm.Feed(tsi, delivered.Fragment, delivered.Payload)
		if !complete {
			continue
		}
		select {
		case t.deliveries <- Delivery{Source: tsi, Payload: apdu}:
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) onSpm(pkt types.Packet, addr net.Addr) {
	if t.peers == nil {
		return
	}
	tsi := pkt.Header.TSI()
	p, err := t.peers.Borrow(tsi, nlaOf(addr))
	if err != nil {
		return
	}
	defer t.peers.Release(p)
	p.Touch()
}

// nakSuppressWindow pushes the next ambient SPM out past any NAK the
// endpoint just answered, so a burst of NAKs doesn't also trigger a
// redundant ambient SPM on its heels.
const nakSuppressWindow = 200 * time.Millisecond

func (t *Transport) onNak(pkt types.Packet) {
	if !t.info.Caps.CanSendData {
		return
	}
	if err := t.retransmit(pkt.Nak.Sqn); err != nil {
		t.log.Debugf("pgm: retransmit for nak sqn %d failed: %v", pkt.Nak.Sqn, err)
		return
	}
	if err := t.sendNcf(pkt.Nak.Sqn); err != nil {
		t.log.Debugf("pgm: ncf for sqn %d failed: %v", pkt.Nak.Sqn, err)
	}
	if t.wheel != nil {
		t.wheel.Reschedule("spm.ambient", time.Now().Add(t.info.Timer.SpmAmbientInterval+nakSuppressWindow))
	}
}

func nlaOf(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}
