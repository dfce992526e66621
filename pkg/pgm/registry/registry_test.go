package registry

import (
	"testing"

	"github.com/jabolina/go-pgm/pkg/pgm/core"
	"github.com/jabolina/go-pgm/pkg/pgm/definition"
	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

func TestRegisterAndUnregisterTrackLen(t *testing.T) {
	reg := New()
	before := Len()

	tr, err := core.Create(types.DefaultEndpointInfo(types.TSI{SourcePort: 1}, 7800), definition.NewLogger("test"), nil, definition.NewIDGenerator(), reg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reg.Register(tr)
	if Len() != before+1 {
		t.Fatalf("expected registry len %d, got %d", before+1, Len())
	}

	reg.Unregister(tr)
	if Len() != before {
		t.Fatalf("expected registry len back to %d, got %d", before, Len())
	}
}

func TestEachVisitsRegisteredEndpoints(t *testing.T) {
	reg := New()
	tr, err := core.Create(types.DefaultEndpointInfo(types.TSI{SourcePort: 2}, 7800), definition.NewLogger("test"), nil, definition.NewIDGenerator(), reg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reg.Register(tr)
	defer reg.Unregister(tr)

	seen := false
	Each(func(t *core.Transport) {
		if t == tr {
			seen = true
		}
	})
	if !seen {
		t.Fatalf("expected Each to visit the registered endpoint")
	}
}
