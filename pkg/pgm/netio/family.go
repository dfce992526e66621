// Package netio wires the transport core to real sockets: family
// capability tables, multicast group membership, DSCP/TTL/loopback
// option plumbing, and the single sendto chokepoint every outgoing
// packet passes through (spec §4.4, §6, §9).
package netio

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Family distinguishes the two address families the capability table
// is keyed by (spec §9 "polymorphic socket family handling").
type Family int

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

func FamilyOf(ip net.IP) Family {
	if ip.To4() != nil {
		return FamilyV4
	}
	return FamilyV6
}

// multicastConn is the subset of ipv4.PacketConn / ipv6.PacketConn
// this package needs, so the capability table can dispatch without a
// type switch at every call site.
type multicastConn interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
	LeaveGroup(ifi *net.Interface, group net.Addr) error
	SetMulticastTTL(ttl int) error
	SetMulticastLoopback(on bool) error
	SetMulticastInterface(ifi *net.Interface) error
}

// capability adapts a raw net.PacketConn into the family-specific
// calls the rest of netio needs, hiding whether the family is IPv4 or
// IPv6 from callers (spec §9 design note).
type capability struct {
	family Family
	mc     multicastConn
	setTOS func(dscp int) error
}

func newCapability(pc net.PacketConn, family Family) *capability {
	switch family {
	case FamilyV4:
		c := ipv4.NewPacketConn(pc)
		return &capability{family: family, mc: v4conn{c}, setTOS: func(dscp int) error { return c.SetTOS(dscp << 2) }}
	default:
		c := ipv6.NewPacketConn(pc)
		return &capability{family: family, mc: v6conn{c}, setTOS: func(dscp int) error { return c.SetTrafficClass(dscp << 2) }}
	}
}

type v4conn struct{ c *ipv4.PacketConn }

func (v v4conn) JoinGroup(ifi *net.Interface, group net.Addr) error  { return v.c.JoinGroup(ifi, group) }
func (v v4conn) LeaveGroup(ifi *net.Interface, group net.Addr) error { return v.c.LeaveGroup(ifi, group) }
func (v v4conn) SetMulticastTTL(ttl int) error                      { return v.c.SetMulticastTTL(ttl) }
func (v v4conn) SetMulticastLoopback(on bool) error                 { return v.c.SetMulticastLoopback(on) }
func (v v4conn) SetMulticastInterface(ifi *net.Interface) error     { return v.c.SetMulticastInterface(ifi) }

type v6conn struct{ c *ipv6.PacketConn }

func (v v6conn) JoinGroup(ifi *net.Interface, group net.Addr) error  { return v.c.JoinGroup(ifi, group) }
func (v v6conn) LeaveGroup(ifi *net.Interface, group net.Addr) error { return v.c.LeaveGroup(ifi, group) }
func (v v6conn) SetMulticastTTL(ttl int) error                      { return v.c.SetMulticastHopLimit(ttl) }
func (v v6conn) SetMulticastLoopback(on bool) error                 { return v.c.SetMulticastLoopback(on) }
func (v v6conn) SetMulticastInterface(ifi *net.Interface) error     { return v.c.SetMulticastInterface(ifi) }

func wrapErr(cause error, op string) *types.Error {
	if cause == nil {
		return nil
	}
	return types.System(cause, "netio: %s", op)
}
