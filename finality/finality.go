// Package finality implements the INSTANT/SAFE/FINAL labeling and τ₃
// checkpoint emission of spec.md §4.4 (C7). A slice's label is a pure
// function of its depth below the current tip; this package never
// re-derives cumulative weight itself, it consumes what storage/forkchoice
// already persisted.
package finality

import (
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

// Label is one of the three finality states of spec.md §4.4.
type Label int

const (
	Instant Label = iota
	Safe
	Final
)

func (l Label) String() string {
	switch l {
	case Instant:
		return "instant"
	case Safe:
		return "safe"
	case Final:
		return "final"
	default:
		return "unknown"
	}
}

// LabelFor computes a slice's finality label given tipHeight (the current
// canonical chain height) and sliceHeight (the slice being labeled).
// depth = tipHeight - sliceHeight; depth < SafeFinalityDepth is INSTANT,
// depth in [SafeFinalityDepth, FinalFinalityDepth) is SAFE, depth >=
// FinalFinalityDepth is FINAL. Boundary cases per spec.md §8: depth
// exactly 2016 is FINAL; depth 2015 is SAFE (eligible for a ≥6x reorg).
func LabelFor(tipHeight, sliceHeight uint64) Label {
	if sliceHeight > tipHeight {
		return Instant
	}
	depth := tipHeight - sliceHeight
	switch {
	case depth >= config.FinalFinalityDepth:
		return Final
	case depth >= config.SafeFinalityDepth:
		return Safe
	default:
		return Instant
	}
}

// Checkpoint is the fixed triple emitted at every τ₃ boundary, spec.md
// §4.4: "(height, slice-hash, cumulative-weight)".
type Checkpoint struct {
	Height           uint64
	SliceHash        hash.Digest
	CumulativeWeight types.Weight128
}

// IsTau3Boundary reports whether height marks a τ₃ boundary: one slice
// every 144 τ₂ (spec.md §3.1: τ₃ = 144·τ₂).
func IsTau3Boundary(height uint64) bool {
	const tau3IntervalSlices = 144
	return height > 0 && height%tau3IntervalSlices == 0
}

// Tracker holds the last emitted checkpoint and the chain's current
// labeling inputs, mirroring the small stateful trackers the teacher
// keeps per consensus round (e.g. wave's ItemState map) rather than
// recomputing labels from full history on every query.
type Tracker struct {
	lastCheckpoint Checkpoint
	tipHeight      uint64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe updates the tracker's notion of tip height, emitting a new
// checkpoint if height crosses a τ₃ boundary.
func (t *Tracker) Observe(height uint64, sliceHash hash.Digest, cumWeight types.Weight128) (Checkpoint, bool) {
	t.tipHeight = height
	if !IsTau3Boundary(height) {
		return Checkpoint{}, false
	}
	cp := Checkpoint{Height: height, SliceHash: sliceHash, CumulativeWeight: cumWeight}
	t.lastCheckpoint = cp
	return cp, true
}

func (t *Tracker) LastCheckpoint() Checkpoint {
	return t.lastCheckpoint
}

func (t *Tracker) Label(sliceHeight uint64) Label {
	return LabelFor(t.tipHeight, sliceHeight)
}
