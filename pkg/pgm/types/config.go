package types

import (
	"net"
	"time"
)

// MaxGroupSourceRequests is the OS-imposed default ceiling on
// multicast group-source requests per endpoint (spec §3).
const MaxGroupSourceRequests = 20

// MinTpduHeaderSize is the combined size of the IP + PGM header, the
// lower bound a caller may configure max_tpdu to (spec §3).
const MinTpduHeaderSize = 20 + 16 // IPv4 header + pgm_header/pgm_data minimum

// MaxFragments bounds how many TPDU fragments a single APDU may be
// split into, used to derive max_apdu (spec §3).
const MaxFragments = 64

// GroupSourceRequest names a multicast group, optional source (for
// SSM), and bound interface. Deduplicated by (Group, Source, Interface).
type GroupSourceRequest struct {
	Group          net.IP
	Source         net.IP
	InterfaceIndex int
}

func (g GroupSourceRequest) Family() int {
	if g.Group.To4() != nil {
		return 4
	}
	return 6
}

func (g GroupSourceRequest) equalKey(o GroupSourceRequest) bool {
	return g.Group.Equal(o.Group) && g.Source.Equal(o.Source) && g.InterfaceIndex == o.InterfaceIndex
}

// FecInfo is the forward-error-correction configuration (spec §3).
type FecInfo struct {
	Enabled           bool
	N                 int
	K                 int
	ProactiveH        int
	UseOndemandParity bool
	UseVarPktLen      bool
}

// Validate enforces the FEC invariants from spec §3.
func (f FecInfo) Validate() *Error {
	if !f.Enabled {
		return nil
	}
	if f.K < 2 || f.K > 128 || f.K&(f.K-1) != 0 {
		return Invalid("fec: k=%d must be a power of two in [2,128]", f.K)
	}
	if f.N <= f.K || f.N > 255 {
		return Invalid("fec: n=%d must be in [k+1,255] (k=%d)", f.N, f.K)
	}
	if f.ProactiveH > f.N-f.K {
		return Invalid("fec: proactive_h=%d exceeds n-k=%d", f.ProactiveH, f.N-f.K)
	}
	if f.K > 223 {
		if (f.ProactiveH*223)/f.K < 1 {
			return Invalid("fec: k=%d > 223 requires floor(h*223/k) >= 1", f.K)
		}
	}
	return nil
}

// CapabilityFlags mirror the endpoint's capability bits (spec §3).
// CanSendData, CanSendNak, CanRecvData and UseMulticastLoop default
// true on creation; IsNonblocking and IsPassive default false.
type CapabilityFlags struct {
	CanSendData      bool
	CanSendNak       bool
	CanRecvData      bool
	IsNonblocking    bool
	UseMulticastLoop bool
	IsPassive        bool
}

func DefaultCapabilityFlags() CapabilityFlags {
	return CapabilityFlags{
		CanSendData:      true,
		CanSendNak:       true,
		CanRecvData:      true,
		IsNonblocking:    false,
		UseMulticastLoop: true,
	}
}

// TimerInfo holds the ambient/heartbeat SPM schedule (spec §4.6).
type TimerInfo struct {
	SpmAmbientInterval    time.Duration
	SpmHeartbeatIntervals []time.Duration
	NakRdataIvl           time.Duration
	NakRepeatIvl          time.Duration
	NakNcfIvl             time.Duration
	NakBackoffIvl         time.Duration
}

func DefaultTimerInfo() TimerInfo {
	return TimerInfo{
		SpmAmbientInterval: 30 * time.Second,
		SpmHeartbeatIntervals: []time.Duration{
			100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond,
			100 * time.Millisecond, 1300 * time.Millisecond, 7 * time.Second,
			16 * time.Second, 25 * time.Second, 30 * time.Second,
		},
		NakRdataIvl:   2 * time.Second,
		NakRepeatIvl:  2 * time.Second,
		NakNcfIvl:     2 * time.Second,
		NakBackoffIvl: 50 * time.Millisecond,
	}
}

// EndpointInfo is the full configuration surface an endpoint is
// created and bound with (spec §3, §6).
type EndpointInfo struct {
	TSI              TSI
	DestinationPort  uint16
	RecvGroups       []GroupSourceRequest
	SendGroup        GroupSourceRequest
	InterfaceIndices []int

	MaxTpdu int
	Hops    int
	SndBuf  int
	RcvBuf  int

	Fec FecInfo

	TxwSqns   uint32
	TxwSecs   time.Duration
	TxwMaxRte uint32

	UdpEncapUcastPort uint16
	UdpEncapMcastPort uint16

	AbortOnReset bool
	SendOnly     bool
	RecvOnly     bool

	Caps  CapabilityFlags
	Timer TimerInfo
}

func DefaultEndpointInfo(tsi TSI, destPort uint16) EndpointInfo {
	return EndpointInfo{
		TSI:             tsi,
		DestinationPort: destPort,
		MaxTpdu:         1500,
		Hops:            16,
		Caps:            DefaultCapabilityFlags(),
		Timer:           DefaultTimerInfo(),
	}
}

// UsesUdpEncap reports whether this endpoint speaks UDP-encapsulated
// PGM rather than raw PGM (protocol 113).
func (e EndpointInfo) UsesUdpEncap() bool {
	return e.UdpEncapUcastPort != 0 || e.UdpEncapMcastPort != 0
}

// Validate performs the create()-time validation from spec §4.1:
// distinct source/destination ports if both set, UDP encapsulation
// requires both ports set, and address-family consistency across all
// receive group-source requests and the send request.
func (e EndpointInfo) Validate() *Error {
	if e.UsesUdpEncap() {
		if e.UdpEncapUcastPort == 0 || e.UdpEncapMcastPort == 0 {
			return Invalid("udp encapsulation requires both ucast and mcast ports to be set")
		}
	}
	if e.DestinationPort != 0 && e.TSI.SourcePort != 0 && e.DestinationPort == e.TSI.SourcePort {
		return Invalid("source port %d and destination port must be distinct", e.TSI.SourcePort)
	}
	if err := e.Fec.Validate(); err != nil {
		return err
	}
	if e.MaxTpdu < MinTpduHeaderSize || e.MaxTpdu >= 65536 {
		return Invalid("max_tpdu=%d must be >= %d and < 65536", e.MaxTpdu, MinTpduHeaderSize)
	}
	if e.Hops <= 0 || e.Hops >= 256 {
		return Invalid("hops=%d must be in (0,256)", e.Hops)
	}
	if len(e.RecvGroups) > MaxGroupSourceRequests {
		return Invalid("recv group-source requests %d exceed max %d", len(e.RecvGroups), MaxGroupSourceRequests)
	}
	fam := -1
	for _, g := range e.RecvGroups {
		if fam == -1 {
			fam = g.Family()
		} else if g.Family() != fam {
			return Invalid("all receive group-source requests must share one address family")
		}
	}
	if e.SendGroup.Group != nil && e.SendGroup.Source != nil {
		sg, ss := e.SendGroup.Group.To4() != nil, e.SendGroup.Source.To4() != nil
		if sg != ss {
			return Invalid("send request group and source must share one address family")
		}
	}
	return nil
}

// MaxTsdu is the largest transport service data unit fitting in one
// TPDU without fragmentation (max_tpdu minus MinTpduHeaderSize, the
// IP and PGM headers together).
func (e EndpointInfo) MaxTsdu() int {
	return e.MaxTpdu - MinTpduHeaderSize
}

// MaxTsduFragment is the largest TSDU fitting in one TPDU once the
// fragmentation options are added (spec §6 packet offset note).
func (e EndpointInfo) MaxTsduFragment() int {
	const optFragmentOverhead = 4 + 4 + 16 // opt_length + opt_header + opt_fragment
	return e.MaxTsdu() - optFragmentOverhead
}

// MaxApdu is the largest APDU this endpoint can fragment and retain,
// bounded by both the protocol's fragment-count ceiling and the TXW
// capacity (spec §3).
func (e EndpointInfo) MaxApdu(txwSqns uint32) int {
	frags := MaxFragments
	if txwSqns > 0 && uint32(frags) > txwSqns {
		frags = int(txwSqns)
	}
	return frags * e.MaxTsduFragment()
}

// DedupGroupSourceRequests merges a new request into the list,
// returning the updated list and whether the request was a duplicate
// (spec §4.1 join_group dedup by (group,source,interface); S4).
func DedupGroupSourceRequests(list []GroupSourceRequest, add GroupSourceRequest) ([]GroupSourceRequest, bool) {
	for _, g := range list {
		if g.equalKey(add) {
			return list, true
		}
	}
	return append(list, add), false
}

// RemoveGroupSourceRequests removes entries matching group (and,
// if set, interface), tolerating an unspecified interface by matching
// all entries for that group (spec §4.1 leave_group semantics).
func RemoveGroupSourceRequests(list []GroupSourceRequest, group net.IP, ifaceIndex int, ifaceSet bool) []GroupSourceRequest {
	out := list[:0:0]
	for _, g := range list {
		match := g.Group.Equal(group)
		if match && ifaceSet {
			match = g.InterfaceIndex == ifaceIndex
		}
		if !match {
			out = append(out, g)
		}
	}
	return out
}
