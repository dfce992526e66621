package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func TestLoadAndConvertToEndpointInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoint.yaml")
	doc := `
destination_port: 7800
recv_groups:
  - group: 239.255.1.1
max_tpdu: 1400
hops: 4
fec:
  enabled: true
  n: 6
  k: 4
txw_sqns: 128
send_only: false
spm_ambient_ms: 5000
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	endpoint, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(7800), endpoint.DestinationPort)

	info, err := endpoint.ToEndpointInfo(types.TSI{SourcePort: 9000})
	require.NoError(t, err)
	require.Equal(t, 1400, info.MaxTpdu)
	require.Equal(t, 4, info.Hops)
	require.True(t, info.Fec.Enabled)
	require.Len(t, info.RecvGroups, 1)
	require.Equal(t, "239.255.1.1", info.RecvGroups[0].Group.String())
}

func TestToEndpointInfoRejectsInvalidGroupAddress(t *testing.T) {
	e := Endpoint{RecvGroups: []GroupSourceRequest{{Group: "not-an-ip"}}}
	_, err := e.ToEndpointInfo(types.TSI{SourcePort: 1})
	require.Error(t, err)
}

func TestRecvOnlyDisablesSendDataButLeavesNakEnabled(t *testing.T) {
	e := Endpoint{RecvOnly: true}
	info, err := e.ToEndpointInfo(types.TSI{SourcePort: 1})
	require.NoError(t, err)
	require.False(t, info.Caps.CanSendData)
	require.True(t, info.Caps.CanSendNak, "recv_only alone must not block nak generation")
}

func TestPassiveDisablesNakGeneration(t *testing.T) {
	e := Endpoint{RecvOnly: true, Passive: true}
	info, err := e.ToEndpointInfo(types.TSI{SourcePort: 1})
	require.NoError(t, err)
	require.True(t, info.Caps.IsPassive)
	require.False(t, info.Caps.CanSendNak)
}
