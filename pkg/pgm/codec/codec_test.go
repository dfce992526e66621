package codec

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func TestEncodeDecodeODATA(t *testing.T) {
	pkt := types.Packet{
		Header: types.Header{SourcePort: 1000, DestinationPort: 2000, GlobalSourceID: [6]byte{1, 2, 3, 4, 5, 6}, Type: types.TypeODATA, TSDULength: 5},
		Type:   types.TypeODATA,
		Data:   &types.DataBody{Sqn: 7, TrailSqn: 1, Payload: []byte("hello")},
		Options: []types.Option{{
			Type:     types.OptFragment,
			Fragment: &types.OptionFragment{FirstSqn: 7, FragmentOffset: 0, ApduLength: 5},
		}},
	}

	raw, err := Encode(pkt)
	require.Nil(t, err)

	got, derr := Decode(raw)
	require.Nil(t, derr)
	require.Equal(t, pkt.Type, got.Type)
	require.Equal(t, pkt.Data.Sqn, got.Data.Sqn)
	require.Equal(t, pkt.Data.Payload, got.Data.Payload)
	opt, ok := got.FragmentOption()
	require.True(t, ok)
	require.Equal(t, types.Sqn(7), opt.FirstSqn)
}

func TestEncodeDecodeSPM(t *testing.T) {
	pkt := types.Packet{
		Header: types.Header{SourcePort: 1, DestinationPort: 2, Type: types.TypeSPM},
		Type:   types.TypeSPM,
		Spm:    &types.SpmBody{Sqn: 42, TrailSqn: 10, PathNLA: net.ParseIP("10.0.0.1")},
	}
	raw, err := Encode(pkt)
	require.Nil(t, err)
	got, derr := Decode(raw)
	require.Nil(t, derr)
	require.Equal(t, types.Sqn(42), got.Spm.Sqn)
	require.True(t, got.Spm.PathNLA.Equal(net.ParseIP("10.0.0.1")))
}

func TestDecodeRejectsCorruptChecksum(t *testing.T) {
	pkt := types.Packet{
		Header: types.Header{Type: types.TypeNAK},
		Type:   types.TypeNAK,
		Nak:    &types.NakBody{Sqn: 1},
	}
	raw, err := Encode(pkt)
	require.Nil(t, err)
	raw[len(raw)-1] ^= 0xFF
	_, derr := Decode(raw)
	require.NotNil(t, derr)
	require.Equal(t, types.KindProtocol, derr.Kind)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, derr := Decode([]byte{1, 2, 3})
	require.NotNil(t, derr)
}
