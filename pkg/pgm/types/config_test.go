package types

import (
	"net"
	"testing"
)

func mustIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad test ip " + s)
	}
	return ip
}

func TestFecInfoValidate(t *testing.T) {
	cases := []struct {
		name string
		f    FecInfo
		ok   bool
	}{
		{"disabled always ok", FecInfo{Enabled: false}, true},
		{"valid rs(255,128)", FecInfo{Enabled: true, N: 255, K: 128, ProactiveH: 32}, true},
		{"k not power of two", FecInfo{Enabled: true, N: 20, K: 9}, false},
		{"n too small", FecInfo{Enabled: true, N: 4, K: 4}, false},
		{"h exceeds n-k", FecInfo{Enabled: true, N: 8, K: 4, ProactiveH: 10}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.f.Validate()
			if c.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !c.ok && err == nil {
				t.Fatalf("expected invalid, got nil")
			}
		})
	}
}

func TestEndpointInfoValidateRequiresBothUdpPorts(t *testing.T) {
	info := DefaultEndpointInfo(TSI{}, 1000)
	info.UdpEncapUcastPort = 3055
	if err := info.Validate(); err == nil {
		t.Fatalf("expected error when only one udp encap port is set")
	}
}

func TestDedupGroupSourceRequests(t *testing.T) {
	var list []GroupSourceRequest
	req := GroupSourceRequest{Group: mustIP("239.1.1.1")}
	list, dup := DedupGroupSourceRequests(list, req)
	if dup {
		t.Fatalf("first insert must not be a duplicate")
	}
	_, dup = DedupGroupSourceRequests(list, req)
	if !dup {
		t.Fatalf("second insert of same request must be a duplicate")
	}
}
