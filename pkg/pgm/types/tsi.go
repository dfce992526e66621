package types

import (
	"encoding/binary"
	"fmt"
)

// TSI is the Transport Session Identifier: a 6-byte global source id
// plus a 2-byte source port, immutable once created (spec §3).
type TSI struct {
	GlobalSourceID [6]byte
	SourcePort     uint16
}

func NewTSI(gsi [6]byte, sourcePort uint16) TSI {
	return TSI{GlobalSourceID: gsi, SourcePort: sourcePort}
}

// Bytes returns the 8-byte wire representation used as a map key and
// in SPM/ODATA headers.
func (t TSI) Bytes() [8]byte {
	var out [8]byte
	copy(out[:6], t.GlobalSourceID[:])
	binary.BigEndian.PutUint16(out[6:], t.SourcePort)
	return out
}

func (t TSI) String() string {
	g := t.GlobalSourceID
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x.%d", g[0], g[1], g[2], g[3], g[4], g[5], t.SourcePort)
}

func TSIFromBytes(b [8]byte) TSI {
	var gsi [6]byte
	copy(gsi[:], b[:6])
	return TSI{GlobalSourceID: gsi, SourcePort: binary.BigEndian.Uint16(b[6:])}
}

// Sqn is a PGM sequence number: strictly monotonic modulo 2^32 (spec §3/§8).
type Sqn uint32

// Precedes reports whether a comes before b respecting 32-bit wraparound,
// per RFC 1982-style serial number arithmetic which PGM relies on for
// trail/lead comparisons.
func (a Sqn) Precedes(b Sqn) bool {
	return int32(a-b) < 0
}

func (a Sqn) LessEq(b Sqn) bool {
	return a == b || a.Precedes(b)
}

func (a Sqn) Add(n uint32) Sqn {
	return Sqn(uint32(a) + n)
}
