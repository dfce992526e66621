package netio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// IPPROTOPGM is PGM's IANA-assigned protocol number (spec §6: "PGM
// over IP (protocol 113)").
const IPPROTOPGM = 113

// Sockets bundles the three handles an endpoint owns (spec §3):
// receive, send, and send-with-router-alert (the last carries the
// RFC 2113 IP option on NAK/SPM requests that routers must snoop).
type Sockets struct {
	Recv            net.PacketConn
	Send            net.PacketConn
	SendRouterAlert net.PacketConn

	RecvCap *capability
	SendCap *capability
	RACap   *capability

	Family Family
	UDP    bool
}

// Open creates the endpoint's sockets, and creating them binds them
// (net.ListenPacket), so callers invoke Open from Bind, not from
// Create.
func Open(info types.EndpointInfo, bindAddr net.IP, log types.Logger) (*Sockets, *types.Error) {
	family := FamilyV4
	if bindAddr != nil && bindAddr.To4() == nil {
		family = FamilyV6
	}

	var recv, send, ra net.PacketConn
	var err error

	if info.UsesUdpEncap() {
		recv, err = net.ListenPacket(udpNet(family), hostPort(bindAddr, info.UdpEncapMcastPort))
		if err != nil {
			return nil, types.Resource(err, "netio: open recv udp socket")
		}
		send, err = net.ListenPacket(udpNet(family), hostPort(bindAddr, 0))
		if err != nil {
			recv.Close()
			return nil, types.Resource(err, "netio: open send udp socket")
		}
		ra, err = net.ListenPacket(udpNet(family), hostPort(bindAddr, 0))
		if err != nil {
			recv.Close()
			send.Close()
			return nil, types.Resource(err, "netio: open router-alert udp socket")
		}
	} else {
		rawNet := rawNetwork(family)
		recv, err = net.ListenPacket(rawNet, ipOnly(bindAddr))
		if err != nil {
			return nil, types.Permission(err, "netio: open raw recv socket (requires CAP_NET_RAW)")
		}
		send, err = net.ListenPacket(rawNet, ipOnly(bindAddr))
		if err != nil {
			recv.Close()
			return nil, types.Permission(err, "netio: open raw send socket")
		}
		ra, err = net.ListenPacket(rawNet, ipOnly(bindAddr))
		if err != nil {
			recv.Close()
			send.Close()
			return nil, types.Permission(err, "netio: open raw router-alert socket")
		}
		if family == FamilyV4 {
			if e := setHdrIncl(send); e != nil {
				log.Warnf("netio: IP_HDRINCL unavailable on send socket: %v", e)
			}
			if e := setHdrIncl(ra); e != nil {
				log.Warnf("netio: IP_HDRINCL unavailable on router-alert socket: %v", e)
			}
			if e := setRouterAlertOption(ra); e != nil {
				log.Warnf("netio: RFC2113 router-alert option unavailable: %v", e)
			}
		}
	}

	return &Sockets{
		Recv:            recv,
		Send:            send,
		SendRouterAlert: ra,
		RecvCap:         newCapability(recv, family),
		SendCap:         newCapability(send, family),
		RACap:           newCapability(ra, family),
		Family:          family,
		UDP:             info.UsesUdpEncap(),
	}, nil
}

func (s *Sockets) Close() {
	if s.Recv != nil {
		s.Recv.Close()
	}
	if s.Send != nil {
		s.Send.Close()
	}
	if s.SendRouterAlert != nil {
		s.SendRouterAlert.Close()
	}
}

func udpNet(f Family) string {
	if f == FamilyV4 {
		return "udp4"
	}
	return "udp6"
}

func rawNetwork(f Family) string {
	if f == FamilyV4 {
		return fmt.Sprintf("ip4:%d", IPPROTOPGM)
	}
	return fmt.Sprintf("ip6:%d", IPPROTOPGM)
}

func hostPort(ip net.IP, port uint16) string {
	if ip == nil {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", ip.String(), port)
}

func ipOnly(ip net.IP) string {
	if ip == nil {
		return "0.0.0.0"
	}
	return ip.String()
}

// setHdrIncl enables IP_HDRINCL on a raw IPv4 socket, matching spec
// §6's "IP_HDRINCL for IPv4 raw" socket option.
func setHdrIncl(pc net.PacketConn) error {
	ipConn, ok := pc.(*net.IPConn)
	if !ok {
		return fmt.Errorf("not an IPConn")
	}
	raw, err := ipConn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// setRouterAlertOption sets the RFC 2113 router-alert IP option on
// outgoing packets from the router-alert socket (spec §3 "the last
// carries the RFC 2113 IP option on NAK/SPM requests that routers
// must snoop").
func setRouterAlertOption(pc net.PacketConn) error {
	ipConn, ok := pc.(*net.IPConn)
	if !ok {
		return fmt.Errorf("not an IPConn")
	}
	raw, err := ipConn.SyscallConn()
	if err != nil {
		return err
	}
	// Router Alert option: type=0x94, length=4, value=0.
	opt := []byte{0x94, 0x04, 0x00, 0x00}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptString(int(fd), unix.IPPROTO_IP, unix.IP_OPTIONS, string(opt))
	})
	if err != nil {
		return err
	}
	return sockErr
}

// SetBuffers applies SO_SNDBUF/SO_RCVBUF, clamped by the OS ceilings
// when available (spec §6).
func SetBuffers(pc net.PacketConn, sndBuf, rcvBuf int) *types.Error {
	sc, ok := syscallConnOf(pc)
	if !ok {
		return nil
	}
	var firstErr error
	_ = sc.Control(func(fd uintptr) {
		if sndBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sndBuf); e != nil && firstErr == nil {
				firstErr = e
			}
		}
		if rcvBuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBuf); e != nil && firstErr == nil {
				firstErr = e
			}
		}
	})
	return wrapErr(firstErr, "set buffers")
}

// SetReuseAddr applies SO_REUSEADDR, required for UDP encapsulation
// (spec §6).
func SetReuseAddr(pc net.PacketConn) *types.Error {
	sc, ok := syscallConnOf(pc)
	if !ok {
		return nil
	}
	var sockErr error
	_ = sc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	return wrapErr(sockErr, "set reuseaddr")
}

func syscallConnOf(pc net.PacketConn) (syscall.RawConn, bool) {
	type syscallConner interface {
		SyscallConn() (syscall.RawConn, error)
	}
	sc, ok := pc.(syscallConner)
	if !ok {
		return nil, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, false
	}
	return raw, true
}
