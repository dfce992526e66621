package core

import (
	"net"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/netio"
	"github.com/jabolina/go-pgm/pkg/pgm/peer"
	"github.com/jabolina/go-pgm/pkg/pgm/rate"
	"github.com/jabolina/go-pgm/pkg/pgm/rxw"
	"github.com/jabolina/go-pgm/pkg/pgm/timer"
	"github.com/jabolina/go-pgm/pkg/pgm/txw"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// drainTimeout bounds how long Destroy waits for in-flight sends to
// finish before tearing down sockets (spec §9 Open Question (a),
// resolved: destroy never blocks indefinitely on a stalled receiver,
// so it always has a ceiling).
const drainTimeout = 2 * time.Second

// Bind opens sockets, applies socket options, joins configured
// groups, constructs the transmit/receive windows, starts the event
// loop, and releases the send mutex held since Create (spec §4.1
// bind).
func (t *Transport) Bind() *types.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireLive(); err != nil {
		return err
	}
	if err := t.requireNotBound(); err != nil {
		return err
	}

	bindAddr := t.bindAddress()
	sockets, err := netio.Open(t.info, bindAddr, t.log)
	if err != nil {
		return err
	}
	if t.info.UsesUdpEncap() {
		_ = netio.SetReuseAddr(sockets.Recv)
	}
	if t.info.SndBuf > 0 || t.info.RcvBuf > 0 {
		_ = netio.SetBuffers(sockets.Send, t.info.SndBuf, 0)
		_ = netio.SetBuffers(sockets.Recv, 0, t.info.RcvBuf)
	}
	if err := sockets.ApplySendOptions(t.info.Hops, t.info.Caps.UseMulticastLoop, firstIfaceIndex(t.info), t.log); err != nil {
		sockets.Close()
		return err
	}
	if err := sockets.ApplyRecvOptions(); err != nil {
		sockets.Close()
		return err
	}
	for _, g := range t.recvGroups {
		if err := sockets.JoinGroup(g); err != nil {
			sockets.Close()
			return err
		}
	}

	t.sockets = sockets
	bytesPerSecond := int(t.info.TxwMaxRte)
	if bytesPerSecond <= 0 {
		bytesPerSecond = t.info.MaxTpdu * 1000
	}
	t.regulator = rate.NewRegulator(bytesPerSecond, t.info.MaxTpdu*4)
	t.emitter = netio.NewEmitter(sockets, t.regulator, &t.sendMu, &t.raMu, t.log, t.metrics)
	t.wheel = timer.New(t.log)

	if t.info.Caps.CanSendData {
		window, werr := txw.New(txw.Config{
			TSI:        t.info.TSI,
			Tpdu:       t.info.MaxTpdu,
			Sqns:       t.info.TxwSqns,
			Secs:       t.info.TxwSecs.Seconds(),
			MaxRteBps:  t.info.TxwMaxRte,
			InitialSqn: types.Sqn(1),
			Fec:        t.info.Fec,
			Log:        t.log,
			Metrics:    t.metrics,
		})
		if werr != nil {
			sockets.Close()
			return werr
		}
		t.txw = window
	}

	if t.info.Caps.CanRecvData {
		factory := func(tsi types.TSI) (*rxw.Window, *types.Error) {
			capacity := t.info.TxwSqns
			if capacity == 0 {
				capacity = 4096
			}
			return rxw.New(rxw.Config{Capacity: capacity, InitialSqn: types.Sqn(1), Fec: t.info.Fec, Log: t.log})
		}
		t.peers = peer.NewTable(factory, t, t.log, t.metrics)
	}

	t.isBound = true
	t.sendMu.Unlock()

	t.wg.Add(1)
	go t.recvLoop()
	t.wg.Add(1)
	go t.timerLoop()

	if t.info.Caps.CanSendData {
		t.emitAmbientBurst()
		t.scheduleAmbientSpm()
	}

	if t.registry != nil {
		t.registry.Register(t)
	}

	t.log.Infof("pgm: endpoint %s bound", t.info.TSI)
	return nil
}

func (t *Transport) bindAddress() net.IP {
	if t.info.SendGroup.Source != nil {
		return t.info.SendGroup.Source
	}
	return nil
}

func firstIfaceIndex(info types.EndpointInfo) int {
	if len(info.InterfaceIndices) > 0 {
		return info.InterfaceIndices[0]
	}
	return 0
}

// emitAmbientBurst sends exactly three SPMs immediately after bind,
// the burst spec §4.6/§8 scenario S6 requires so a late-joining
// receiver's first NAK has somewhere recent to land.
func (t *Transport) emitAmbientBurst() {
	for i := 0; i < 3; i++ {
		if err := t.sendSpm(); err != nil {
			t.log.Warnf("pgm: ambient spm burst %d/3 failed: %v", i+1, err)
		}
	}
}

func (t *Transport) scheduleAmbientSpm() {
	t.wheel.ScheduleRepeating("spm.ambient", time.Now().Add(t.info.Timer.SpmAmbientInterval), t.info.Timer.SpmAmbientInterval, func(time.Time) {
		if err := t.sendSpm(); err != nil {
			t.log.Warnf("pgm: ambient spm failed: %v", err)
		}
	})
}

// Destroy tears the endpoint down: rolls back any in-flight APDU,
// bounds the wait for outstanding sends to drain, releases peers,
// shuts down the transmit window, and closes sockets (spec §4.1
// destroy). Idempotent.
func (t *Transport) Destroy(flush bool) *types.Error {
	t.mu.Lock()
	if t.isDestroyed {
		t.mu.Unlock()
		return nil
	}
	t.isDestroyed = true
	wasBound := t.isBound
	if t.isApduEagain && t.txw != nil {
		t.txw.RollbackTo(t.pendingFirst)
		t.isApduEagain = false
	}
	t.mu.Unlock()

	close(t.stop)

	if wasBound && flush {
		t.drainSends()
	}

	t.wg.Wait()

	if t.registry != nil {
		t.registry.Unregister(t)
	}
	if t.peers != nil {
		t.peers.Shutdown()
	}
	if t.txw != nil {
		t.txw.Shutdown()
	}
	if t.sockets != nil {
		t.sockets.Close()
	}
	close(t.deliveries)
	t.log.Infof("pgm: endpoint %s destroyed", t.info.TSI)
	return nil
}

// drainSends waits up to drainTimeout for the send/router-alert
// mutexes to become free, giving an in-flight emitter call a chance
// to finish before sockets are closed underneath it.
func (t *Transport) drainSends() {
	done := make(chan struct{})
	go func() {
		t.sendMu.Lock()
		t.sendMu.Unlock()
		t.raMu.Lock()
		t.raMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		t.log.Warnf("pgm: destroy drain timed out after %s", drainTimeout)
	}
}
