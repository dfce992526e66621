package types

import "net"

// PacketType enumerates the PGM packet types handled by the codec
// (spec §6).
type PacketType uint8

const (
	TypeSPM PacketType = iota
	TypeODATA
	TypeRDATA
	TypeNAK
	TypeNCF
	TypePOLL
	TypePOLR
)

func (t PacketType) String() string {
	switch t {
	case TypeSPM:
		return "SPM"
	case TypeODATA:
		return "ODATA"
	case TypeRDATA:
		return "RDATA"
	case TypeNAK:
		return "NAK"
	case TypeNCF:
		return "NCF"
	case TypePOLL:
		return "POLL"
	case TypePOLR:
		return "POLR"
	default:
		return "UNKNOWN"
	}
}

// OptionType enumerates the option-chain entries from spec §6.
type OptionType uint8

const (
	OptLength OptionType = iota
	OptFragment
	OptParity
	OptVarPktLen
)

// OptionFragment carries APDU reassembly metadata (spec §6).
type OptionFragment struct {
	FirstSqn       Sqn
	FragmentOffset uint32
	ApduLength     uint32
}

// OptionParity marks a TPDU as FEC parity and names its transmission
// group (spec §3/§6).
type OptionParity struct {
	TgSqn        Sqn
	PacketLength uint16
}

// OptionVarPktLen carries the original (unpadded) TSDU length when
// variable-length packets are in use (spec §6).
type OptionVarPktLen struct {
	Length uint16
}

// Option is one entry of the flat option chain every packet may carry.
// Only the field matching Type is populated (spec §9 tagged-variant
// guidance applied to options as well as packet bodies).
type Option struct {
	Type      OptionType
	Fragment  *OptionFragment
	Parity    *OptionParity
	VarPktLen *OptionVarPktLen
}

// Header is the common PGM header present on every packet (spec §6).
type Header struct {
	SourcePort      uint16
	DestinationPort uint16
	Type            PacketType
	GlobalSourceID  [6]byte
	TSDULength      uint16
}

// TSI extracts the sender's transport session identifier from the header.
func (h Header) TSI() TSI {
	return TSI{GlobalSourceID: h.GlobalSourceID, SourcePort: h.SourcePort}
}

// DataBody is the ODATA/RDATA payload: a data sqn, the sender's
// trailing edge at send time, and the TSDU bytes (spec §3 TXW entry).
type DataBody struct {
	Sqn        Sqn
	TrailSqn   Sqn
	IsParity   bool
	TgSqn      Sqn
	ParityIdx  int
	Payload    []byte
}

// SpmBody is the ambient/heartbeat source path message (spec §4.6).
type SpmBody struct {
	Sqn      Sqn
	TrailSqn Sqn
	PathNLA  net.IP
}

// NakBody requests retransmission of a single sqn (spec §6).
type NakBody struct {
	Sqn       Sqn
	SourceNLA net.IP
	GroupNLA  net.IP
}

// NcfBody confirms a NAK has been accepted by the source (spec §6).
type NcfBody struct {
	Sqn       Sqn
	SourceNLA net.IP
	GroupNLA  net.IP
}

// PollBody and PolrBody implement the source-initiated NAK poll
// mechanism named in spec §6's packet-type list.
type PollBody struct {
	Sqn             Sqn
	Round           uint32
	BackoffInterval uint32
	PathNLA         net.IP
}

type PolrBody struct {
	Sqn   Sqn
	Round uint32
}

// Packet is the tagged sum type carried over the wire: exactly one of
// the body pointers is non-nil, selected by Type (spec §9).
type Packet struct {
	Header  Header
	Type    PacketType
	Options []Option

	Data *DataBody
	Spm  *SpmBody
	Nak  *NakBody
	Ncf  *NcfBody
	Poll *PollBody
	Polr *PolrBody
}

// FragmentOption returns the opt_fragment entry if present.
func (p Packet) FragmentOption() (*OptionFragment, bool) {
	for _, o := range p.Options {
		if o.Type == OptFragment && o.Fragment != nil {
			return o.Fragment, true
		}
	}
	return nil, false
}

// ParityOption returns the opt_parity entry if present.
func (p Packet) ParityOption() (*OptionParity, bool) {
	for _, o := range p.Options {
		if o.Type == OptParity && o.Parity != nil {
			return o.Parity, true
		}
	}
	return nil, false
}
