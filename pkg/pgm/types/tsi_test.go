package types

import "testing"

func TestSqnPrecedesWraps(t *testing.T) {
	var max Sqn = 0xFFFFFFFF
	if !max.Precedes(0) {
		t.Fatalf("expected wraparound sqn to precede 0")
	}
	if Sqn(5).Precedes(Sqn(3)) {
		t.Fatalf("5 should not precede 3")
	}
	if !Sqn(3).Precedes(Sqn(5)) {
		t.Fatalf("3 should precede 5")
	}
}

func TestSqnLessEq(t *testing.T) {
	if !Sqn(3).LessEq(Sqn(3)) {
		t.Fatalf("a sqn must be LessEq itself")
	}
	if Sqn(5).LessEq(Sqn(3)) {
		t.Fatalf("5 must not be LessEq 3")
	}
}

func TestTSIRoundTrip(t *testing.T) {
	tsi := NewTSI([6]byte{1, 2, 3, 4, 5, 6}, 9000)
	got := TSIFromBytes(tsi.Bytes())
	if got != tsi {
		t.Fatalf("round trip mismatch: got %v want %v", got, tsi)
	}
}
