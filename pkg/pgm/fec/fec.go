// Package fec implements the RS(n,k) forward error correction engine
// from spec §4.5, over GF(2^8) via klauspost/reedsolomon (the same
// library the pack's kcp-go sessions use for their FEC layer).
package fec

import (
	"github.com/klauspost/reedsolomon"

	"github.com/jabolina/go-pgm/pkg/pgm/types"
)

// Engine is a systematic RS(n,k) codec bound to one (n,k) pair. The
// transmit window creates one Engine per FEC-enabled endpoint and
// reuses it across transmission groups (spec §4.5, §3 fec invariants).
type Engine struct {
	n, k int
	enc  reedsolomon.Encoder
}

// NewEngine checks 1 <= k < n <= 255 and constructs the Vandermonde
// generator matrix once; the power-of-two rule on k is enforced by
// types.FecInfo.Validate, not here. Default per spec §4.5 is RS(255,223).
func NewEngine(n, k int) (*Engine, *types.Error) {
	if n <= k || n > 255 || k < 1 {
		return nil, types.Invalid("fec: invalid (n=%d,k=%d)", n, k)
	}
	enc, err := reedsolomon.New(k, n-k)
	if err != nil {
		return nil, types.System(err, "fec: constructing RS(%d,%d)", n, k)
	}
	return &Engine{n: n, k: k, enc: enc}, nil
}

func DefaultEngine() (*Engine, *types.Error) {
	return NewEngine(255, 223)
}

func (e *Engine) N() int { return e.n }
func (e *Engine) K() int { return e.k }
func (e *Engine) H() int { return e.n - e.k }

// pad brings every data block to the same length, the longest one in
// the group, as RS requires uniform shard sizes. Transmission groups
// are not padded before they reach the engine, whatever
// use_varpkt_len says, so this is where every group is aligned.
func (e *Engine) pad(dataBlocks [][]byte) ([][]byte, int) {
	max := 0
	for _, b := range dataBlocks {
		if len(b) > max {
			max = len(b)
		}
	}
	out := make([][]byte, len(dataBlocks))
	for i, b := range dataBlocks {
		if len(b) == max {
			out[i] = b
			continue
		}
		padded := make([]byte, max)
		copy(padded, b)
		out[i] = padded
	}
	return out, max
}

// Encode computes all n-k parity symbols across the k data blocks,
// used for proactive parity (spec §4.2 build_parity proactive mode).
func (e *Engine) Encode(dataBlocks [][]byte) ([][]byte, *types.Error) {
	if len(dataBlocks) != e.k {
		return nil, types.Invalid("fec: expected %d data blocks, got %d", e.k, len(dataBlocks))
	}
	padded, size := e.pad(dataBlocks)
	shards := make([][]byte, e.n)
	copy(shards, padded)
	for i := e.k; i < e.n; i++ {
		shards[i] = make([]byte, size)
	}
	if err := e.enc.Encode(shards); err != nil {
		return nil, types.System(err, "fec: encode")
	}
	return shards[e.k:], nil
}

// EncodeOne computes a single parity symbol by index, used for
// on-demand parity generation (spec §4.2 build_parity, §4.5 encode).
// The underlying Vandermonde encode is a full-matrix operation; only
// the requested row is retained so callers never materialize parity
// they didn't ask for.
func (e *Engine) EncodeOne(dataBlocks [][]byte, parityIndex int) ([]byte, *types.Error) {
	if parityIndex < 0 || parityIndex >= e.n-e.k {
		return nil, types.Invalid("fec: parity index %d out of range [0,%d)", parityIndex, e.n-e.k)
	}
	all, err := e.Encode(dataBlocks)
	if err != nil {
		return nil, err
	}
	return all[parityIndex], nil
}

// DecodeParityInline recovers missing data/parity symbols in place:
// blocks has length n, with erased positions left as nil or
// zero-length (spec §4.5 decode_parity_inline).
func (e *Engine) DecodeParityInline(blocks [][]byte, erasures []bool) *types.Error {
	if len(blocks) != e.n {
		return types.Invalid("fec: expected %d blocks, got %d", e.n, len(blocks))
	}
	work := make([][]byte, e.n)
	copy(work, blocks)
	for i, erased := range erasures {
		if erased {
			work[i] = nil
		}
	}
	if err := e.enc.Reconstruct(work); err != nil {
		return types.System(err, "fec: reconstruct inline")
	}
	copy(blocks, work)
	return nil
}

// DecodeParityAppended recovers data blocks when parity is carried in
// a separate buffer set rather than in-situ (spec §4.5
// decode_parity_appended).
func (e *Engine) DecodeParityAppended(dataBlocks [][]byte, parityBlocks [][]byte, erasures []bool) *types.Error {
	if len(dataBlocks) != e.k || len(parityBlocks) != e.n-e.k {
		return types.Invalid("fec: expected %d data + %d parity blocks", e.k, e.n-e.k)
	}
	combined := make([][]byte, e.n)
	copy(combined[:e.k], dataBlocks)
	copy(combined[e.k:], parityBlocks)
	if err := e.DecodeParityInline(combined, erasures); err != nil {
		return err
	}
	copy(dataBlocks, combined[:e.k])
	copy(parityBlocks, combined[e.k:])
	return nil
}
