package netio

import (
	"net"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// JoinGroup joins req.Group on the receive socket as an any-source
// join (§6 MCAST_JOIN_GROUP). req.Source is not used: no
// source-specific join is issued, so an SSM request receives traffic
// from every source of the group.
func (s *Sockets) JoinGroup(req types.GroupSourceRequest) *types.Error {
	ifi, err := interfaceByIndexOrNil(req.InterfaceIndex)
	if err != nil {
		return err
	}
	addr := groupAddr(req.Group, s.Family)
	if cause := s.RecvCap.mc.JoinGroup(ifi, addr); cause != nil {
		return types.System(cause, "netio: join group %s", req.Group)
	}
	return nil
}

// LeaveGroup leaves a previously joined group-source request. Leaving
// a group that was never joined is idempotent at the types.Dedup layer
// (testable property #7); this call issues the underlying socket
// operation whenever it is called, without checking membership.
func (s *Sockets) LeaveGroup(req types.GroupSourceRequest) *types.Error {
	ifi, err := interfaceByIndexOrNil(req.InterfaceIndex)
	if err != nil {
		return err
	}
	addr := groupAddr(req.Group, s.Family)
	if cause := s.RecvCap.mc.LeaveGroup(ifi, addr); cause != nil {
		return types.System(cause, "netio: leave group %s", req.Group)
	}
	return nil
}

// ApplySendOptions configures the send-side multicast options: TTL
// (hop limit), loopback, bound interface, and best-effort DSCP
// Expedited Forwarding (spec §6).
func (s *Sockets) ApplySendOptions(hops int, loopback bool, ifaceIndex int, log types.Logger) *types.Error {
	if err := s.SendCap.mc.SetMulticastTTL(hops); err != nil {
		return types.System(err, "netio: set multicast ttl")
	}
	if err := s.SendCap.mc.SetMulticastLoopback(loopback); err != nil {
		return types.System(err, "netio: set multicast loopback")
	}
	if ifaceIndex != 0 {
		ifi, err := interfaceByIndexOrNil(ifaceIndex)
		if err != nil {
			return err
		}
		if cause := s.SendCap.mc.SetMulticastInterface(ifi); cause != nil {
			return types.System(cause, "netio: set multicast interface")
		}
	}
	if err := s.SendCap.setTOS(0x2E); err != nil {
		log.Warnf("netio: DSCP Expedited Forwarding unavailable (CAP_NET_ADMIN?): %v", err)
	}
	return nil
}

// ApplyRecvOptions disables loopback on the receive socket
// unconditionally, per spec §6 ("receive socket always false").
func (s *Sockets) ApplyRecvOptions() *types.Error {
	if err := s.RecvCap.mc.SetMulticastLoopback(false); err != nil {
		return types.System(err, "netio: disable recv loopback")
	}
	return nil
}

func groupAddr(ip net.IP, family Family) net.Addr {
	if family == FamilyV4 {
		return &net.UDPAddr{IP: ip}
	}
	return &net.UDPAddr{IP: ip}
}

func interfaceByIndexOrNil(index int) (*net.Interface, *types.Error) {
	if index == 0 {
		return nil, nil
	}
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return nil, types.Invalid("netio: unknown interface index %d: %v", index, err)
	}
	return ifi, nil
}
