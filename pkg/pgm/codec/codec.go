// Package codec implements the PGM wire encoding described in spec §6:
// the common header, the per-type body (SPM/ODATA/RDATA/NAK/NCF/POLL/
// POLR), and the flat option chain (opt_length, opt_fragment,
// opt_parity, opt_var_pktlen).
package codec

import (
	"encoding/binary"
	"net"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

const (
	flagHasOptions = 0x01
	famV4          = 4
	famV6          = 6
)

// Encode serializes a Packet into its wire representation. The
// returned slice begins at the PGM header; any IP layer is the
// caller's (netio's) concern.
func Encode(p types.Packet) ([]byte, *types.Error) {
	buf := make([]byte, 0, 64)
	buf = appendU16(buf, p.Header.SourcePort)
	buf = appendU16(buf, p.Header.DestinationPort)
	buf = append(buf, byte(p.Type))

	optFlag := byte(0)
	if len(p.Options) > 0 {
		optFlag = flagHasOptions
	}
	buf = append(buf, optFlag)
	buf = appendU16(buf, 0) // checksum placeholder, patched below
	buf = append(buf, p.Header.GlobalSourceID[:]...)
	buf = appendU16(buf, p.Header.TSDULength)

	body, err := encodeBody(p)
	if err != nil {
		return nil, err
	}
	buf = append(buf, body...)

	opts, err := encodeOptions(p.Options)
	if err != nil {
		return nil, err
	}
	buf = append(buf, opts...)

	binary.BigEndian.PutUint16(buf[6:8], checksum(buf))
	return buf, nil
}

// Decode parses a wire buffer into a Packet. It validates the
// checksum and minimum length, returning a protocol error on failure
// (spec §7 protocol category).
func Decode(raw []byte) (types.Packet, *types.Error) {
	var p types.Packet
	if len(raw) < 16 {
		return p, types.Protocol("packet shorter than header: %d bytes", len(raw))
	}
	p.Header.SourcePort = binary.BigEndian.Uint16(raw[0:2])
	p.Header.DestinationPort = binary.BigEndian.Uint16(raw[2:4])
	p.Type = types.PacketType(raw[4])
	optFlag := raw[5]
	gotChecksum := binary.BigEndian.Uint16(raw[6:8])
	copy(p.Header.GlobalSourceID[:], raw[8:14])
	p.Header.TSDULength = binary.BigEndian.Uint16(raw[14:16])

	check := make([]byte, len(raw))
	copy(check, raw)
	binary.BigEndian.PutUint16(check[6:8], 0)
	if want := checksum(check); want != gotChecksum {
		return p, types.Protocol("checksum mismatch: got %04x want %04x", gotChecksum, want)
	}

	rest := raw[16:]
	body, rest, perr := decodeBody(p.Type, rest, int(p.Header.TSDULength))
	if perr != nil {
		return p, perr
	}
	assignBody(&p, body)

	if optFlag&flagHasOptions != 0 {
		opts, perr := decodeOptions(rest)
		if perr != nil {
			return p, perr
		}
		p.Options = opts
	}
	return p, nil
}

// bodyUnion is an internal carrier so encode/decodeBody can stay a
// single switch without repeating the Packet's tagged fields.
type bodyUnion struct {
	data *types.DataBody
	spm  *types.SpmBody
	nak  *types.NakBody
	ncf  *types.NcfBody
	poll *types.PollBody
	polr *types.PolrBody
}

func assignBody(p *types.Packet, b bodyUnion) {
	p.Data, p.Spm, p.Nak, p.Ncf, p.Poll, p.Polr = b.data, b.spm, b.nak, b.ncf, b.poll, b.polr
}

func encodeBody(p types.Packet) ([]byte, *types.Error) {
	switch p.Type {
	case types.TypeODATA, types.TypeRDATA:
		if p.Data == nil {
			return nil, types.Protocol("%s packet missing data body", p.Type)
		}
		buf := appendU32(nil, uint32(p.Data.Sqn))
		buf = appendU32(buf, uint32(p.Data.TrailSqn))
		parity := byte(0)
		if p.Data.IsParity {
			parity = 1
		}
		buf = append(buf, parity)
		buf = appendU32(buf, uint32(p.Data.TgSqn))
		buf = appendU16(buf, uint16(p.Data.ParityIdx))
		buf = append(buf, p.Data.Payload...)
		return buf, nil
	case types.TypeSPM:
		if p.Spm == nil {
			return nil, types.Protocol("SPM packet missing body")
		}
		buf := appendU32(nil, uint32(p.Spm.Sqn))
		buf = appendU32(buf, uint32(p.Spm.TrailSqn))
		buf = appendIP(buf, p.Spm.PathNLA)
		return buf, nil
	case types.TypeNAK:
		if p.Nak == nil {
			return nil, types.Protocol("NAK packet missing body")
		}
		buf := appendU32(nil, uint32(p.Nak.Sqn))
		buf = appendIP(buf, p.Nak.SourceNLA)
		buf = appendIP(buf, p.Nak.GroupNLA)
		return buf, nil
	case types.TypeNCF:
		if p.Ncf == nil {
			return nil, types.Protocol("NCF packet missing body")
		}
		buf := appendU32(nil, uint32(p.Ncf.Sqn))
		buf = appendIP(buf, p.Ncf.SourceNLA)
		buf = appendIP(buf, p.Ncf.GroupNLA)
		return buf, nil
	case types.TypePOLL:
		if p.Poll == nil {
			return nil, types.Protocol("POLL packet missing body")
		}
		buf := appendU32(nil, uint32(p.Poll.Sqn))
		buf = appendU32(buf, p.Poll.Round)
		buf = appendU32(buf, p.Poll.BackoffInterval)
		buf = appendIP(buf, p.Poll.PathNLA)
		return buf, nil
	case types.TypePOLR:
		if p.Polr == nil {
			return nil, types.Protocol("POLR packet missing body")
		}
		buf := appendU32(nil, uint32(p.Polr.Sqn))
		buf = appendU32(buf, p.Polr.Round)
		return buf, nil
	default:
		return nil, types.Protocol("unknown packet type %d", p.Type)
	}
}

func decodeBody(t types.PacketType, rest []byte, tsduLen int) (bodyUnion, []byte, *types.Error) {
	var b bodyUnion
	need := func(n int) *types.Error {
		if len(rest) < n {
			return types.Protocol("%s body truncated: have %d want %d", t, len(rest), n)
		}
		return nil
	}
	switch t {
	case types.TypeODATA, types.TypeRDATA:
		if err := need(4 + 4 + 1 + 4 + 2 + tsduLen); err != nil {
			return b, nil, err
		}
		sqn := types.Sqn(binary.BigEndian.Uint32(rest[0:4]))
		trail := types.Sqn(binary.BigEndian.Uint32(rest[4:8]))
		isParity := rest[8] != 0
		tg := types.Sqn(binary.BigEndian.Uint32(rest[9:13]))
		idx := binary.BigEndian.Uint16(rest[13:15])
		payload := append([]byte(nil), rest[15:15+tsduLen]...)
		b.data = &types.DataBody{Sqn: sqn, TrailSqn: trail, IsParity: isParity, TgSqn: tg, ParityIdx: int(idx), Payload: payload}
		return b, rest[15+tsduLen:], nil
	case types.TypeSPM:
		if err := need(8); err != nil {
			return b, nil, err
		}
		sqn := types.Sqn(binary.BigEndian.Uint32(rest[0:4]))
		trail := types.Sqn(binary.BigEndian.Uint32(rest[4:8]))
		ip, n, err := readIP(rest[8:])
		if err != nil {
			return b, nil, err
		}
		b.spm = &types.SpmBody{Sqn: sqn, TrailSqn: trail, PathNLA: ip}
		return b, rest[8+n:], nil
	case types.TypeNAK, types.TypeNCF:
		if err := need(4); err != nil {
			return b, nil, err
		}
		sqn := types.Sqn(binary.BigEndian.Uint32(rest[0:4]))
		src, n1, err := readIP(rest[4:])
		if err != nil {
			return b, nil, err
		}
		grp, n2, err := readIP(rest[4+n1:])
		if err != nil {
			return b, nil, err
		}
		if t == types.TypeNAK {
			b.nak = &types.NakBody{Sqn: sqn, SourceNLA: src, GroupNLA: grp}
		} else {
			b.ncf = &types.NcfBody{Sqn: sqn, SourceNLA: src, GroupNLA: grp}
		}
		return b, rest[4+n1+n2:], nil
	case types.TypePOLL:
		if err := need(12); err != nil {
			return b, nil, err
		}
		sqn := types.Sqn(binary.BigEndian.Uint32(rest[0:4]))
		round := binary.BigEndian.Uint32(rest[4:8])
		backoff := binary.BigEndian.Uint32(rest[8:12])
		ip, n, err := readIP(rest[12:])
		if err != nil {
			return b, nil, err
		}
		b.poll = &types.PollBody{Sqn: sqn, Round: round, BackoffInterval: backoff, PathNLA: ip}
		return b, rest[12+n:], nil
	case types.TypePOLR:
		if err := need(8); err != nil {
			return b, nil, err
		}
		sqn := types.Sqn(binary.BigEndian.Uint32(rest[0:4]))
		round := binary.BigEndian.Uint32(rest[4:8])
		b.polr = &types.PolrBody{Sqn: sqn, Round: round}
		return b, rest[8:], nil
	default:
		return b, nil, types.Protocol("unknown packet type %d", t)
	}
}

func encodeOptions(opts []types.Option) ([]byte, *types.Error) {
	if len(opts) == 0 {
		return nil, nil
	}
	buf := []byte{byte(len(opts))}
	for _, o := range opts {
		buf = append(buf, byte(o.Type))
		switch o.Type {
		case types.OptFragment:
			if o.Fragment == nil {
				return nil, types.Protocol("opt_fragment missing payload")
			}
			buf = appendU32(buf, uint32(o.Fragment.FirstSqn))
			buf = appendU32(buf, o.Fragment.FragmentOffset)
			buf = appendU32(buf, o.Fragment.ApduLength)
		case types.OptParity:
			if o.Parity == nil {
				return nil, types.Protocol("opt_parity missing payload")
			}
			buf = appendU32(buf, uint32(o.Parity.TgSqn))
			buf = appendU16(buf, o.Parity.PacketLength)
		case types.OptVarPktLen:
			if o.VarPktLen == nil {
				return nil, types.Protocol("opt_var_pktlen missing payload")
			}
			buf = appendU16(buf, o.VarPktLen.Length)
		case types.OptLength:
			// opt_length is a bare marker, no payload.
		default:
			return nil, types.Protocol("unknown option type %d", o.Type)
		}
	}
	return buf, nil
}

func decodeOptions(rest []byte) ([]types.Option, *types.Error) {
	if len(rest) == 0 {
		return nil, nil
	}
	count := int(rest[0])
	rest = rest[1:]
	opts := make([]types.Option, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return nil, types.Protocol("option chain truncated")
		}
		t := types.OptionType(rest[0])
		rest = rest[1:]
		var o types.Option
		o.Type = t
		switch t {
		case types.OptFragment:
			if len(rest) < 12 {
				return nil, types.Protocol("opt_fragment truncated")
			}
			o.Fragment = &types.OptionFragment{
				FirstSqn:       types.Sqn(binary.BigEndian.Uint32(rest[0:4])),
				FragmentOffset: binary.BigEndian.Uint32(rest[4:8]),
				ApduLength:     binary.BigEndian.Uint32(rest[8:12]),
			}
			rest = rest[12:]
		case types.OptParity:
			if len(rest) < 6 {
				return nil, types.Protocol("opt_parity truncated")
			}
			o.Parity = &types.OptionParity{
				TgSqn:        types.Sqn(binary.BigEndian.Uint32(rest[0:4])),
				PacketLength: binary.BigEndian.Uint16(rest[4:6]),
			}
			rest = rest[6:]
		case types.OptVarPktLen:
			if len(rest) < 2 {
				return nil, types.Protocol("opt_var_pktlen truncated")
			}
			o.VarPktLen = &types.OptionVarPktLen{Length: binary.BigEndian.Uint16(rest[0:2])}
			rest = rest[2:]
		case types.OptLength:
			// no payload
		default:
			return nil, types.Protocol("unknown option type %d", t)
		}
		opts = append(opts, o)
	}
	return opts, nil
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendIP(buf []byte, ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		buf = append(buf, famV4)
		return append(buf, v4...)
	}
	if ip == nil {
		return append(buf, famV4, 0, 0, 0, 0)
	}
	buf = append(buf, famV6)
	return append(buf, ip.To16()...)
}

func readIP(rest []byte) (net.IP, int, *types.Error) {
	if len(rest) < 1 {
		return nil, 0, types.Protocol("address family truncated")
	}
	switch rest[0] {
	case famV4:
		if len(rest) < 5 {
			return nil, 0, types.Protocol("ipv4 address truncated")
		}
		return net.IP(append([]byte(nil), rest[1:5]...)), 5, nil
	case famV6:
		if len(rest) < 17 {
			return nil, 0, types.Protocol("ipv6 address truncated")
		}
		return net.IP(append([]byte(nil), rest[1:17]...)), 17, nil
	default:
		return nil, 0, types.Protocol("unknown address family %d", rest[0])
	}
}

// checksum is the IP-style ones-complement 16-bit checksum PGM uses
// over the whole packet with the checksum field zeroed.
func checksum(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if n%2 == 1 {
		sum += uint32(buf[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
