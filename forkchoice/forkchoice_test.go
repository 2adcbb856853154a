package forkchoice

import (
	"testing"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

func digest(b byte) hash.Digest {
	var d hash.Digest
	d[0] = b
	return d
}

func TestCanonicalTipPicksHighestWeight(t *testing.T) {
	candidates := []TipCandidate{
		{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 100}},
		{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 200}},
		{Hash: digest(3), CumulativeWeight: types.Weight128{Lo: 150}},
	}
	tip, ok := CanonicalTip(candidates)
	if !ok || tip.Hash != digest(2) {
		t.Fatalf("expected candidate 2 (weight 200) to win, got %+v", tip)
	}
}

func TestCanonicalTipTieBreaksOnLowerHash(t *testing.T) {
	candidates := []TipCandidate{
		{Hash: digest(9), CumulativeWeight: types.Weight128{Lo: 100}},
		{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 100}},
	}
	tip, ok := CanonicalTip(candidates)
	if !ok || tip.Hash != digest(1) {
		t.Fatalf("expected tie to break toward lower hash, got %+v", tip)
	}
}

func TestSlashingThresholdFloorsAtOne(t *testing.T) {
	// current tip weight small enough that 10% minus forkpoint goes negative.
	th := SlashingThreshold(types.Weight128{Lo: 5}, types.Weight128{Lo: 100})
	if th.Int64() != 1 {
		t.Fatalf("expected threshold floored at 1, got %v", th)
	}
}

func TestEvaluateReorgRejectsAcrossFinal(t *testing.T) {
	current := TipCandidate{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 1000}}
	candidate := TipCandidate{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 100000}}
	_, err := EvaluateReorg(current, candidate, 10, types.Weight128{}, 2016, 1)
	if err == nil {
		t.Fatalf("expected error for a reorg whose fork point is before the last FINAL height")
	}
}

func TestEvaluateReorgRequiresWeightMargin(t *testing.T) {
	current := TipCandidate{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 1000}}
	forkPoint := types.Weight128{Lo: 900}

	tooSmall := TipCandidate{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 1000}}
	decision, err := EvaluateReorg(current, tooSmall, 5000, forkPoint, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected reorg with equal weight to be rejected")
	}

	bigEnough := TipCandidate{Hash: digest(3), CumulativeWeight: types.Weight128{Lo: 1001}}
	decision2, err := EvaluateReorg(current, bigEnough, 5000, forkPoint, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision2.Allowed {
		t.Fatalf("expected reorg exceeding threshold margin to be allowed")
	}
}

func TestEvaluateReorgRejectsExactlyAtFinalDepth(t *testing.T) {
	current := TipCandidate{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 1000}}
	forkPoint := types.Weight128{Lo: 10}
	// Weight far in excess of any margin, so only the depth check can reject it.
	candidate := TipCandidate{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 1_000_000}}

	decision, err := EvaluateReorg(current, candidate, 5000, forkPoint, 0, 2016)
	if err == nil {
		t.Fatalf("expected a depth-2016 reorg to be rejected as crossing FINAL, got decision=%+v", decision)
	}
}

func TestEvaluateReorgAtSafeDepthRequiresSixTimesForkPointWeight(t *testing.T) {
	// current/forkPoint chosen so the generic SlashingThreshold margin
	// (required = 50 + max(1, 5-10) = 51) is already cleared by both
	// candidates below, so only the SAFE-depth 6x-fork-point-weight rule
	// (6 * 10 = 60) discriminates between them.
	current := TipCandidate{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 50}}
	forkPoint := types.Weight128{Lo: 10}

	belowSix := TipCandidate{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 55}}
	decision, err := EvaluateReorg(current, belowSix, 5000, forkPoint, 0, 2015)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected a depth-2015 reorg below 6x fork point weight to be rejected")
	}

	atLeastSix := TipCandidate{Hash: digest(3), CumulativeWeight: types.Weight128{Lo: 60}}
	decision2, err := EvaluateReorg(current, atLeastSix, 5000, forkPoint, 0, 2015)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision2.Allowed {
		t.Fatalf("expected a depth-2015 reorg at exactly 6x fork point weight to be allowed")
	}
}

func TestEvaluateReorgBelowSafeDepthSkipsSixTimesRule(t *testing.T) {
	current := TipCandidate{Hash: digest(1), CumulativeWeight: types.Weight128{Lo: 1000}}
	forkPoint := types.Weight128{Lo: 900}
	// Clears the generic margin but nowhere near 6x the fork point weight;
	// must still be allowed because depth (1) is below SAFE (6).
	candidate := TipCandidate{Hash: digest(2), CumulativeWeight: types.Weight128{Lo: 1001}}
	decision, err := EvaluateReorg(current, candidate, 5000, forkPoint, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected an INSTANT-depth reorg to be governed by the generic margin only")
	}
}

func TestSlashSetQuarantineWindow(t *testing.T) {
	s := NewSlashSet()
	var node ids.NodeID
	node[0] = 7

	if s.Quarantined(node, 50) {
		t.Fatalf("expected node not quarantined before any infraction")
	}
	s.Record(node, 100, 144)
	if !s.Quarantined(node, 100) {
		t.Fatalf("expected node quarantined immediately after recording")
	}
	if !s.Quarantined(node, 243) {
		t.Fatalf("expected node still quarantined just before window end")
	}
	if s.Quarantined(node, 244) {
		t.Fatalf("expected node released after the quarantine window elapses")
	}
}
