package netio

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/jabolina/go-pgm/pkg/pgm/rate"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// writabilityTimeout is the spec's one hard-coded, non-tunable
// timeout: the emitter's writability wait after a transient send
// failure (spec §4.4 step 5, §5 "not user-tunable").
const writabilityTimeout = 500 * time.Millisecond

// Emitter is the single chokepoint every outgoing packet passes
// through (spec §4.4): it owns neither mutex itself but is handed the
// pair from the transport core so lock acquisition order stays
// visible at the call site per the §4.1 hierarchy.
type Emitter struct {
	sockets   *Sockets
	regulator *rate.Regulator
	sendMu    *sync.Mutex
	raMu      *sync.Mutex
	log       types.Logger
	metrics   types.MetricsSink
}

func NewEmitter(sockets *Sockets, regulator *rate.Regulator, sendMu, raMu *sync.Mutex, log types.Logger, metrics types.MetricsSink) *Emitter {
	return &Emitter{sockets: sockets, regulator: regulator, sendMu: sendMu, raMu: raMu, log: log, metrics: metrics}
}

// Send implements spec §4.4's sendto wrapper contract end to end.
func (e *Emitter) Send(ctx context.Context, useRateLimit, useRouterAlert, nonblocking bool, buf []byte, dst net.Addr) (int, *types.Error) {
	mu, conn := e.sendMu, e.sockets.Send
	if useRouterAlert {
		mu, conn = e.raMu, e.sockets.SendRouterAlert
	}

	if useRateLimit {
		if err := e.regulator.Check(ctx, len(buf), nonblocking); err != nil {
			if types.IsWouldBlock(err) && nonblocking {
				return 0, err
			}
			if !types.IsWouldBlock(err) {
				return 0, err
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()

	n, err := e.write(conn, buf, dst, nonblocking)
	if err == nil {
		return n, nil
	}
	if !types.IsTransient(err) {
		return n, err
	}

	ready := e.waitWritable(conn, writabilityTimeout)
	if !ready {
		e.log.Warnf("netio: send socket writability timeout after %s", writabilityTimeout)
		return n, err
	}
	n2, err2 := e.write(conn, buf, dst, nonblocking)
	if err2 != nil {
		e.log.Errorf("netio: retry send failed: %v", err2)
		return n2, err2
	}
	return n2, nil
}

func (e *Emitter) write(conn net.PacketConn, buf []byte, dst net.Addr, nonblocking bool) (int, *types.Error) {
	if nonblocking {
		_ = conn.SetWriteDeadline(time.Now())
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	n, err := conn.WriteTo(buf, dst)
	if err == nil {
		return n, nil
	}
	return n, classifySendError(err, nonblocking)
}

// waitWritable blocks up to timeout attempting to confirm the send
// socket is writable again, approximating the spec's poll/select wait
// (spec §4.4 step 5) with a deadline-bounded zero-length probe write,
// since Go's net package exposes no separate writability wait.
func (e *Emitter) waitWritable(conn net.PacketConn, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	_, err := conn.WriteTo(nil, nil)
	_ = conn.SetWriteDeadline(time.Time{})
	if err == nil {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}
	return true
}

func classifySendError(err error, nonblocking bool) *types.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if nonblocking {
			return types.WouldBlock("send would block")
		}
		return types.System(err, "send timeout")
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if nonblocking {
			return types.WouldBlock("send would block")
		}
	}
	switch {
	case errors.Is(err, syscallENETUNREACH()):
		return types.NetworkUnreachable(err)
	case errors.Is(err, syscallEHOSTUNREACH()):
		return types.HostUnreachable(err)
	}
	return types.System(err, "sendto failed")
}
