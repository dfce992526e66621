// Package core implements the transport endpoint from spec §4.1: the
// per-endpoint object owning sockets, the transmit window, the peer
// table, timers, and the mutex hierarchy that coordinates them under
// concurrent sender, receiver, and timer activity.
package core

import (
	"context"
	"sync"

	"github.com/jabolina/go-pgm/pkg/pgm/netio"
	"github.com/jabolina/go-pgm/pkg/pgm/peer"
	"github.com/jabolina/go-pgm/pkg/pgm/rate"
	"github.com/jabolina/go-pgm/pkg/pgm/timer"
	"github.com/jabolina/go-pgm/pkg/pgm/txw"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Delivery is one in-order, reassembled APDU handed to the
// application (spec §3 delivery path, §5 per-peer ordering).
type Delivery struct {
	Source  types.TSI
	Payload []byte
}

// Mutex acquisition order, spec §4.1:
//
//	1. mu          (endpoint.mutex — timer/config)
//	2. peers       (endpoint.peers_lock — owned internally by peer.Table)
//	3. window      (endpoint.window_lock — owned internally by txw.Window)
//	4. sendMu XOR  raMu (never both; owned by netio.Emitter)
//
// No code path in this package acquires a lower lock and then blocks
// trying to acquire a higher one.
type Transport struct {
	mu sync.Mutex

	info    types.EndpointInfo
	log     types.Logger
	metrics types.MetricsSink
	idGen   types.IDGenerator

	sockets   *netio.Sockets
	regulator *rate.Regulator
	emitter   *netio.Emitter
	sendMu    sync.Mutex
	raMu      sync.Mutex

	txw   *txw.Window
	peers *peer.Table
	wheel *timer.Wheel
	reasm *reassembler

	recvGroups []types.GroupSourceRequest

	isBound      bool
	isDestroyed  bool
	isApduEagain bool
	pendingFirst types.Sqn

	deliveries chan Delivery
	stop       chan struct{}
	wg         sync.WaitGroup

	registry EndpointRegistry
}

// EndpointRegistry is the process-wide registry's view of a
// transport, so core does not import registry directly (spec §9:
// "implement as a registry module with explicit init/teardown").
type EndpointRegistry interface {
	Register(t *Transport)
	Unregister(t *Transport)
}

// Create validates info and allocates the endpoint without touching
// the network (spec §4.1 create). The send mutex is held from this
// call until Bind releases it, serializing against premature sends.
func Create(info types.EndpointInfo, log types.Logger, metrics types.MetricsSink, idGen types.IDGenerator, reg EndpointRegistry) (*Transport, *types.Error) {
	if info.TSI.GlobalSourceID == ([6]byte{}) {
		if idGen == nil {
			return nil, types.Invalid("create: no tsi and no id generator supplied")
		}
		info.TSI.GlobalSourceID = idGen.Generate()
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	t := &Transport{
		info:       info,
		log:        log,
		metrics:    metrics,
		idGen:      idGen,
		recvGroups: append([]types.GroupSourceRequest(nil), info.RecvGroups...),
		deliveries: make(chan Delivery, 256),
		stop:       make(chan struct{}),
		registry:   reg,
		reasm:      newReassembler(),
	}
	t.sendMu.Lock()
	return t, nil
}

func (t *Transport) requireNotBound() *types.Error {
	if t.isBound {
		return types.BadState("operation requires endpoint not bound")
	}
	return nil
}

func (t *Transport) requireBound() *types.Error {
	if !t.isBound {
		return types.BadState("operation requires endpoint bound")
	}
	return nil
}

func (t *Transport) requireLive() *types.Error {
	if t.isDestroyed {
		return types.Fault()
	}
	return nil
}

// --- configurators (spec §4.1 set_*: reject if is_bound) ---

func (t *Transport) SetMaxTpdu(v int) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	cp := t.info
	cp.MaxTpdu = v
	if err := cp.Validate(); err != nil {
		return err
	}
	t.info.MaxTpdu = v
	return nil
}

func (t *Transport) SetMulticastLoop(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.Caps.UseMulticastLoop = on
	return nil
}

func (t *Transport) SetHops(hops int) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	if hops <= 0 || hops >= 256 {
		return types.Invalid("hops=%d must be in (0,256)", hops)
	}
	t.info.Hops = hops
	return nil
}

func (t *Transport) SetSndBuf(v int) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.SndBuf = v
	return nil
}

func (t *Transport) SetRcvBuf(v int) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.RcvBuf = v
	return nil
}

func (t *Transport) SetFec(f types.FecInfo) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	t.info.Fec = f
	return nil
}

func (t *Transport) SetSendOnly(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.SendOnly = on
	if on {
		t.info.Caps.CanRecvData = false
	}
	return nil
}

// SetRecvOnly configures the endpoint as a pure subscriber. recv_only
// alone must leave NAK generation enabled (original
// pgm_transport_set_recv_only: can_send_nak = !is_passive) so a
// subscriber can still participate in loss recovery; only SetPassive
// disables NAK generation.
func (t *Transport) SetRecvOnly(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.RecvOnly = on
	if on {
		t.info.Caps.CanSendData = false
	}
	return nil
}

// SetPassive blocks NAK generation independently of recv_only (spec
// §6: "recv_only (passive flag blocks NAK generation)").
func (t *Transport) SetPassive(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.Caps.IsPassive = on
	t.info.Caps.CanSendNak = !on
	return nil
}

func (t *Transport) SetNonblocking(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.Caps.IsNonblocking = on
	return nil
}

func (t *Transport) SetAbortOnReset(on bool) *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireNotBound(); err != nil {
		return err
	}
	t.info.AbortOnReset = on
	return nil
}

// IsBound, IsDestroyed expose lifecycle flags for tests and readiness
// probes without leaking the endpoint mutex.
func (t *Transport) IsBound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isBound
}

func (t *Transport) IsDestroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isDestroyed
}

// Deliveries exposes the pending-delivery notification channel, the
// software equivalent of the pipe/eventfd descriptor named in spec
// §4.1 select_info/poll_info.
func (t *Transport) Deliveries() <-chan Delivery {
	return t.deliveries
}

// emitterContext bounds emitter waits to the endpoint's lifetime.
func (t *Transport) emitterContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

