package lottery

import (
	"testing"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

func nid(b byte) ids.NodeID {
	var arr [20]byte
	arr[0] = b
	return ids.NodeID(arr)
}

func fixtureCandidates() []Candidate {
	return []Candidate{
		{NodeID: nid(1), PubKeyBytes: []byte("A"), Tier: TierFullNode, Weight: 0.7},
		{NodeID: nid(2), PubKeyBytes: []byte("B"), Tier: TierFullNode, Weight: 0.2},
		{NodeID: nid(3), PubKeyBytes: []byte("C"), Tier: TierFullNode, Weight: 0.1},
	}
}

func TestSeedIsDeterministic(t *testing.T) {
	parent := hash.Sum([]byte("parent"))
	s1 := Seed(parent, 42)
	s2 := Seed(parent, 42)
	if s1 != s2 {
		t.Fatalf("expected identical seeds for identical input")
	}
	s3 := Seed(parent, 43)
	if s1 == s3 {
		t.Fatalf("expected distinct seeds for distinct tau2 index")
	}
}

func TestLotteryDeterminismAcrossRuns(t *testing.T) {
	parent := hash.Sum([]byte{0xBE, 0xEF})
	seed := Seed(parent, 42)
	candidates := fixtureCandidates()

	winner1, ok1 := WeightedWinner(seed, candidates)
	winner2, ok2 := WeightedWinner(seed, candidates)
	if !ok1 || !ok2 {
		t.Fatalf("expected a winner both runs")
	}
	if winner1 != winner2 {
		t.Fatalf("expected identical winner across independent runs, got %d and %d", winner1, winner2)
	}

	slots1 := Slots(seed, candidates, 0)
	slots2 := Slots(seed, candidates, 0)
	if slots1 != slots2 {
		t.Fatalf("expected identical ordered fallback list across runs")
	}
}

func TestWeightedWinnerExcludesZeroWeight(t *testing.T) {
	candidates := []Candidate{
		{NodeID: nid(1), PubKeyBytes: []byte("A"), Tier: TierFullNode, Weight: 0},
		{NodeID: nid(2), PubKeyBytes: []byte("B"), Tier: TierFullNode, Weight: 0.5},
	}
	seed := Seed(hash.Sum([]byte("p")), 1)
	idx, ok := WeightedWinner(seed, candidates)
	if !ok || idx != 1 {
		t.Fatalf("expected the only nonzero-weight candidate to win, got idx=%d ok=%v", idx, ok)
	}
}

func TestWeightedWinnerNoCandidates(t *testing.T) {
	seed := Seed(hash.Sum([]byte("p")), 1)
	_, ok := WeightedWinner(seed, nil)
	if ok {
		t.Fatalf("expected no winner with empty candidate set")
	}
}

func TestSlotsFallsThroughEmptyTier(t *testing.T) {
	candidates := []Candidate{
		{NodeID: nid(9), PubKeyBytes: []byte("only-light"), Tier: TierLightClient, Weight: 0.5},
	}
	seed := Seed(hash.Sum([]byte("p")), 7)
	slots := Slots(seed, candidates, 0)
	for i, s := range slots {
		if !s.Found {
			t.Fatalf("slot %d: expected fallthrough to the only eligible tier to find a winner", i)
		}
		if s.Tier != TierLightClient {
			t.Fatalf("slot %d: expected light-client tier, got %v", i, s.Tier)
		}
	}
}

func TestCooldownIneligibleExcluded(t *testing.T) {
	candidates := []Candidate{
		{NodeID: nid(1), PubKeyBytes: []byte("A"), Tier: TierFullNode, Weight: 0.9, CooldownUntil: 100},
		{NodeID: nid(2), PubKeyBytes: []byte("B"), Tier: TierFullNode, Weight: 0.1, CooldownUntil: 0},
	}
	seed := Seed(hash.Sum([]byte("p")), 50)
	pool := eligible(candidates, TierFullNode, types.Tau2Index(50))
	if len(pool) != 1 || string(pool[0].PubKeyBytes) != "B" {
		t.Fatalf("expected candidate A to be excluded by cooldown, pool=%+v", pool)
	}
	idx, ok := WeightedWinner(seed, pool)
	if !ok || pool[idx].NodeID != nid(2) {
		t.Fatalf("expected B to win as the only eligible candidate")
	}
}

func TestRewardHalving(t *testing.T) {
	if Reward(0) != 3000 {
		t.Fatalf("expected genesis-era reward of 3000, got %d", Reward(0))
	}
	if Reward(209_999) != 3000 {
		t.Fatalf("expected pre-halving-boundary reward of 3000, got %d", Reward(209_999))
	}
	if Reward(210_000) != 1500 {
		t.Fatalf("expected exact halving boundary to pay post-halving reward, got %d", Reward(210_000))
	}
	if Reward(210_000 * 64) != 0 {
		t.Fatalf("expected reward to saturate to zero after 64 halvings")
	}
}

func TestAdaptiveCooldownClampsAndCapsDelta(t *testing.T) {
	// First computation: no prior smoothed value, median clamps into range.
	got, err := AdaptiveCooldown(CooldownInputs{InterWinGapsTau2: []float64{10, 12, 11}})
	if err != nil {
		t.Fatalf("AdaptiveCooldown: %v", err)
	}
	if got != 144 {
		t.Fatalf("expected clamp to minimum 144, got %v", got)
	}

	// Large jump from a high prior value is capped at ±20%.
	got2, err := AdaptiveCooldown(CooldownInputs{
		InterWinGapsTau2: []float64{30000, 30000, 30000},
		PriorSmoothed:    1000,
	})
	if err != nil {
		t.Fatalf("AdaptiveCooldown: %v", err)
	}
	if got2 > 1200+1e-9 {
		t.Fatalf("expected delta capped at +20%% of prior (1200), got %v", got2)
	}
}
