package definition

import (
	"github.com/rs/xid"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// IDGenerator produces a 6-byte global source id from the low six
// bytes of a freshly minted xid (spec §3 TSI; xid embeds a timestamp
// and machine id, giving the generated GSI the same "unlikely to
// collide across restarts" property as openpgm's MD5-of-hostname
// default without pulling in a pure-randomness cost).
type IDGenerator struct{}

func NewIDGenerator() IDGenerator { return IDGenerator{} }

func (IDGenerator) Generate() [6]byte {
	id := xid.New()
	raw := id.Bytes() // 12 bytes
	var gsi [6]byte
	copy(gsi[:], raw[:6])
	return gsi
}

var _ types.IDGenerator = IDGenerator{}
