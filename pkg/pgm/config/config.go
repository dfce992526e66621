// Package config loads an endpoint's configuration surface from YAML,
// mapping onto types.EndpointInfo (spec §3, §6), so the cmd/ binaries
// and embedding applications can describe an endpoint declaratively
// instead of calling every set_* configurator by hand.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// GroupSourceRequest is the YAML-friendly mirror of
// types.GroupSourceRequest (net.IP has no YAML tag support of its
// own).
type GroupSourceRequest struct {
	Group     string `yaml:"group"`
	Source    string `yaml:"source,omitempty"`
	Interface string `yaml:"interface,omitempty"`
}

func (g GroupSourceRequest) resolve() (types.GroupSourceRequest, error) {
	ip := net.ParseIP(g.Group)
	if ip == nil {
		return types.GroupSourceRequest{}, fmt.Errorf("config: invalid group address %q", g.Group)
	}
	var src net.IP
	if g.Source != "" {
		src = net.ParseIP(g.Source)
		if src == nil {
			return types.GroupSourceRequest{}, fmt.Errorf("config: invalid source address %q", g.Source)
		}
	}
	idx := 0
	if g.Interface != "" {
		ifi, err := net.InterfaceByName(g.Interface)
		if err != nil {
			return types.GroupSourceRequest{}, fmt.Errorf("config: unknown interface %q: %w", g.Interface, err)
		}
		idx = ifi.Index
	}
	return types.GroupSourceRequest{Group: ip, Source: src, InterfaceIndex: idx}, nil
}

// Fec mirrors types.FecInfo for YAML decoding.
type Fec struct {
	Enabled           bool `yaml:"enabled"`
	N                 int  `yaml:"n"`
	K                 int  `yaml:"k"`
	ProactiveH        int  `yaml:"proactive_h"`
	UseOndemandParity bool `yaml:"ondemand_parity"`
	UseVarPktLen      bool `yaml:"var_pktlen"`
}

// Endpoint is the top-level YAML document shape for one endpoint
// (spec §3 configuration surface, §6 wire options).
type Endpoint struct {
	DestinationPort   uint16               `yaml:"destination_port"`
	RecvGroups        []GroupSourceRequest `yaml:"recv_groups"`
	SendGroup         *GroupSourceRequest  `yaml:"send_group"`
	MaxTpdu           int                  `yaml:"max_tpdu"`
	Hops              int                  `yaml:"hops"`
	SndBuf            int                  `yaml:"snd_buf"`
	RcvBuf            int                  `yaml:"rcv_buf"`
	Fec               Fec                  `yaml:"fec"`
	TxwSqns           uint32               `yaml:"txw_sqns"`
	TxwSecs           float64              `yaml:"txw_secs"`
	TxwMaxRteBps      uint32               `yaml:"txw_max_rte_bps"`
	UdpEncapUcastPort uint16               `yaml:"udp_encap_ucast_port"`
	UdpEncapMcastPort uint16               `yaml:"udp_encap_mcast_port"`
	SendOnly          bool                 `yaml:"send_only"`
	RecvOnly          bool                 `yaml:"recv_only"`
	Passive           bool                 `yaml:"passive"`
	Nonblocking       bool                 `yaml:"nonblocking"`
	MulticastLoop     bool                 `yaml:"multicast_loop"`
	AbortOnReset      bool                 `yaml:"abort_on_reset"`
	SpmAmbientMs      int                  `yaml:"spm_ambient_ms"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Endpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Endpoint{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var e Endpoint
	if err := yaml.Unmarshal(raw, &e); err != nil {
		return Endpoint{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return e, nil
}

// ToEndpointInfo builds a types.EndpointInfo from the parsed document,
// laid over DefaultEndpointInfo (spec §3). Only max_tpdu, hops and
// spm_ambient_ms keep their defaults when the YAML omits them; the
// other fields are copied as they are, so an omitted multicast_loop
// turns multicast loopback off.
func (e Endpoint) ToEndpointInfo(tsi types.TSI) (types.EndpointInfo, error) {
	info := types.DefaultEndpointInfo(tsi, e.DestinationPort)

	for _, g := range e.RecvGroups {
		resolved, err := g.resolve()
		if err != nil {
			return info, err
		}
		info.RecvGroups = append(info.RecvGroups, resolved)
	}
	if e.SendGroup != nil {
		resolved, err := e.SendGroup.resolve()
		if err != nil {
			return info, err
		}
		info.SendGroup = resolved
	}

	if e.MaxTpdu > 0 {
		info.MaxTpdu = e.MaxTpdu
	}
	if e.Hops > 0 {
		info.Hops = e.Hops
	}
	info.SndBuf = e.SndBuf
	info.RcvBuf = e.RcvBuf

	info.Fec = types.FecInfo{
		Enabled:           e.Fec.Enabled,
		N:                 e.Fec.N,
		K:                 e.Fec.K,
		ProactiveH:        e.Fec.ProactiveH,
		UseOndemandParity: e.Fec.UseOndemandParity,
		UseVarPktLen:      e.Fec.UseVarPktLen,
	}

	info.TxwSqns = e.TxwSqns
	info.TxwSecs = time.Duration(e.TxwSecs * float64(time.Second))
	info.TxwMaxRte = e.TxwMaxRteBps

	info.UdpEncapUcastPort = e.UdpEncapUcastPort
	info.UdpEncapMcastPort = e.UdpEncapMcastPort

	info.SendOnly = e.SendOnly
	info.RecvOnly = e.RecvOnly
	info.AbortOnReset = e.AbortOnReset
	info.Caps.IsNonblocking = e.Nonblocking
	info.Caps.UseMulticastLoop = e.MulticastLoop
	if e.SendOnly {
		info.Caps.CanRecvData = false
	}
	if e.RecvOnly {
		info.Caps.CanSendData = false
	}
	if e.Passive {
		info.Caps.IsPassive = true
		info.Caps.CanSendNak = false
	}

	if e.SpmAmbientMs > 0 {
		info.Timer.SpmAmbientInterval = time.Duration(e.SpmAmbientMs) * time.Millisecond
	}

	return info, info.Validate()
}
