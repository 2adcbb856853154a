package finality

import (
	"testing"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

func TestLabelForBoundaries(t *testing.T) {
	// depth exactly 2016 -> FINAL; depth 2015 -> SAFE (spec.md §8).
	if got := LabelFor(2016, 0); got != Final {
		t.Fatalf("expected FINAL at depth 2016, got %v", got)
	}
	if got := LabelFor(2015, 0); got != Safe {
		t.Fatalf("expected SAFE at depth 2015, got %v", got)
	}
	if got := LabelFor(6, 0); got != Safe {
		t.Fatalf("expected SAFE at depth 6, got %v", got)
	}
	if got := LabelFor(5, 0); got != Instant {
		t.Fatalf("expected INSTANT at depth 5, got %v", got)
	}
	if got := LabelFor(100, 150); got != Instant {
		t.Fatalf("expected INSTANT for a slice above tip, got %v", got)
	}
}

func TestIsTau3Boundary(t *testing.T) {
	if !IsTau3Boundary(144) {
		t.Fatalf("expected 144 to be a tau3 boundary")
	}
	if IsTau3Boundary(0) {
		t.Fatalf("expected height 0 (genesis) to not count as a checkpoint boundary")
	}
	if IsTau3Boundary(143) {
		t.Fatalf("expected 143 to not be a boundary")
	}
}

func TestTrackerEmitsCheckpointOnlyAtBoundary(t *testing.T) {
	tr := NewTracker()
	h := hash.Sum([]byte("slice"))
	if _, ok := tr.Observe(100, h, types.Weight128{}); ok {
		t.Fatalf("expected no checkpoint at non-boundary height 100")
	}
	cp, ok := tr.Observe(144, h, types.Weight128{Lo: 500})
	if !ok {
		t.Fatalf("expected checkpoint at height 144")
	}
	if cp.Height != 144 || cp.CumulativeWeight.Lo != 500 {
		t.Fatalf("unexpected checkpoint contents: %+v", cp)
	}
	if tr.LastCheckpoint() != cp {
		t.Fatalf("expected LastCheckpoint to return the emitted checkpoint")
	}
}
