// Package lottery implements the deterministic leader-eligibility engine
// of spec.md §4.3 (C6): seed derivation, two-stage tier + weighted
// candidate selection, the ten HKDF-derived backup slots, adaptive
// cooldown, and the halving/reward schedule. Every function here is a
// pure reduction of persisted state — nothing here consults wall-clock
// or local-only state, matching spec.md §3.4's "no off-chain state
// contributes to lottery-relevant dimensions."
//
// Winner selection resolves an ambiguity in the source formula: "pick the
// candidate such that H(seed ∥ pubkey) / 2²⁵⁶ < w_i / Σw" admits zero or
// multiple satisfying candidates if applied literally per-candidate. This
// is pinned (spec.md §9's "implementers MUST choose one and pin it") to a
// verifiable lowest-normalized-hash rule: winner = argmin_i(H(seed∥pubkey_i)
// / w_i), computed via big.Int cross-multiplication so the comparison is
// exact and host-independent (no floating-point nondeterminism across
// architectures, matching the round-trip law in spec.md §8).
package lottery

import (
	"math/big"
	"sort"

	"github.com/luxfi/ids"
	"github.com/montanaflynn/stats"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

// Tier is the participant class of spec.md §4.3.
type Tier int

const (
	TierFullNode Tier = iota
	TierVerifiedUser
	TierLightClient
)

func (t Tier) String() string {
	switch t {
	case TierFullNode:
		return "full-node"
	case TierVerifiedUser:
		return "verified-user"
	case TierLightClient:
		return "light-client"
	default:
		return "unknown"
	}
}

// Candidate is one node eligible to be considered for a slot, carrying
// just the inputs the lottery needs.
type Candidate struct {
	NodeID        ids.NodeID
	PubKeyBytes   []byte
	Tier          Tier
	Weight        float64 // post-§4.6/§4.7 aggregate weight in [0,1]
	CooldownUntil types.Tau2Index
}

// Seed computes SHA3-256(parent-hash ∥ τ₂-index), spec.md §4.3.
func Seed(parentHash hash.Digest, tau2Index types.Tau2Index) hash.Digest {
	b := make([]byte, 8)
	v := uint64(tau2Index)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return hash.Sum(parentHash[:], b)
}

// tierThresholds partitions [0, 2^64) by the 70/20/10 probabilities.
var (
	tierOneCut = uint64(float64(^uint64(0)) * config.TierOneProbability)
	tierTwoCut = uint64(float64(^uint64(0)) * (config.TierOneProbability + config.TierTwoProbability))
)

// SelectTier chooses a tier from the first 8 bytes of seed, spec.md §4.3
// step 1. If the chosen tier has no eligible candidates the caller must
// fall through to the next tier in the order FullNode, VerifiedUser,
// LightClient, wrapping around to FullNode, per spec.md §4.3.
func SelectTier(seed hash.Digest) Tier {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(seed[i])
	}
	switch {
	case v < tierOneCut:
		return TierFullNode
	case v < tierTwoCut:
		return TierVerifiedUser
	default:
		return TierLightClient
	}
}

// eligible filters candidates by tier and cooldown.
func eligible(candidates []Candidate, tier Tier, tau2Index types.Tau2Index) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Tier == tier && c.CooldownUntil <= tau2Index && c.Weight > 0 {
			out = append(out, c)
		}
	}
	return out
}

// weightFixedScale converts a [0,1] float weight to a fixed-point integer
// so the winner comparison can be done exactly in big.Int.
const weightFixedScale = 1_000_000_000

func weightFixed(w float64) uint64 {
	if w <= 0 {
		return 0
	}
	if w > 1 {
		w = 1
	}
	return uint64(w * weightFixedScale)
}

// WeightedWinner picks argmin_i(H(seed∥pubkey_i)/w_i) among candidates,
// returning the winning index into candidates and true, or false if no
// candidate has positive weight.
func WeightedWinner(seed hash.Digest, candidates []Candidate) (int, bool) {
	bestIdx := -1
	var bestNum, bestDen *big.Int
	for i, c := range candidates {
		wf := weightFixed(c.Weight)
		if wf == 0 {
			continue
		}
		digest := hash.Sum(seed[:], c.PubKeyBytes)
		num := new(big.Int).SetBytes(digest[:])
		den := new(big.Int).SetUint64(wf)
		if bestIdx == -1 {
			bestIdx, bestNum, bestDen = i, num, den
			continue
		}
		// num/den < bestNum/bestDen  <=>  num*bestDen < bestNum*den
		lhs := new(big.Int).Mul(num, bestDen)
		rhs := new(big.Int).Mul(bestNum, den)
		if lhs.Cmp(rhs) < 0 {
			bestIdx, bestNum, bestDen = i, num, den
		}
	}
	return bestIdx, bestIdx != -1
}

// SlotResult is one of the ten lottery slots for a τ₂ tick.
type SlotResult struct {
	SlotIndex    int
	Tier         Tier
	WinnerNodeID ids.NodeID
	Found        bool
}

// Slots derives the primary slot plus nine fallback slots via HKDF-SHA3
// expansion of seed (spec.md §4.3: "Ten backup slots ... are produced by
// taking successive 32-byte chunks of an HKDF-SHA3 expansion of the
// seed"). Each slot independently runs tier selection then weighted
// selection using its own 32-byte chunk, with fallthrough across tiers
// when a tier has no eligible candidate.
func Slots(seed hash.Digest, candidates []Candidate, tau2Index types.Tau2Index) [config.SlotsPerTau2]SlotResult {
	// Canonicalize candidate order before selection: WeightedWinner breaks
	// an exact num/den tie toward whichever candidate it sees first, so
	// every node must iterate the same pubkey-sorted order to agree on the
	// winner regardless of the order candidates were collected in.
	candidates = sortCandidatesByPubKey(candidates)

	var out [config.SlotsPerTau2]SlotResult
	expander := hkdf.New(sha3.New256, seed[:], nil, []byte("montana-acp/lottery/slots/v1"))
	for i := 0; i < config.SlotsPerTau2; i++ {
		chunk := make([]byte, hash.Size)
		if _, err := expander.Read(chunk); err != nil {
			out[i] = SlotResult{SlotIndex: i, Found: false}
			continue
		}
		var slotSeed hash.Digest
		copy(slotSeed[:], chunk)

		out[i] = resolveSlot(slotSeed, candidates, tau2Index, i)
	}
	return out
}

func resolveSlot(slotSeed hash.Digest, candidates []Candidate, tau2Index types.Tau2Index, slotIndex int) SlotResult {
	order := []Tier{TierFullNode, TierVerifiedUser, TierLightClient}
	firstTier := SelectTier(slotSeed)
	// rotate the fallthrough order so the chosen tier is tried first and
	// each empty tier falls through to the next one, wrapping around.
	rotated := make([]Tier, 0, len(order))
	for k := range order {
		rotated = append(rotated, order[(int(firstTier)+k)%len(order)])
	}
	for _, tier := range rotated {
		pool := eligible(candidates, tier, tau2Index)
		if len(pool) == 0 {
			continue
		}
		idx, ok := WeightedWinner(slotSeed, pool)
		if !ok {
			continue
		}
		return SlotResult{SlotIndex: slotIndex, Tier: tier, WinnerNodeID: pool[idx].NodeID, Found: true}
	}
	return SlotResult{SlotIndex: slotIndex, Found: false}
}

// Reward computes the halving-adjusted slice reward, spec.md §4.3:
// 3000 * 2^-floor(h/210000), saturating to 0 after 64 halvings.
func Reward(height uint64) uint64 {
	epoch := height / config.HalvingIntervalSlices
	if epoch >= config.MaxHalvings {
		return 0
	}
	return config.InitialRewardMontana >> epoch
}

// CooldownInputs is the per-node history feeding the adaptive cooldown
// recomputation, spec.md §4.3.
type CooldownInputs struct {
	// InterWinGapsTau2 are the empirical gaps (in τ₂ units) between
	// consecutive wins by this node observed over the last τ₃ window.
	InterWinGapsTau2 []float64
	// PriorSmoothed is the node's previously smoothed cooldown value (0 if
	// this is the node's first computation).
	PriorSmoothed float64
}

// AdaptiveCooldown computes the new cooldown (in τ₂ units) for a node
// that just won, per spec.md §4.3: median of the inter-win gap over τ₃,
// exponentially smoothed over four τ₃ at α=0.25, clamped to
// [144, 25920], with the per-slice delta capped at ±20% of the prior
// value.
func AdaptiveCooldown(in CooldownInputs) (float64, error) {
	median := in.PriorSmoothed
	if len(in.InterWinGapsTau2) > 0 {
		m, err := stats.Median(in.InterWinGapsTau2)
		if err != nil {
			return 0, err
		}
		median = m
	}

	smoothed := median
	if in.PriorSmoothed > 0 {
		smoothed = config.CooldownSmoothingAlpha*median + (1-config.CooldownSmoothingAlpha)*in.PriorSmoothed
	}

	if in.PriorSmoothed > 0 {
		maxDelta := in.PriorSmoothed * config.CooldownMaxDeltaFraction
		if smoothed > in.PriorSmoothed+maxDelta {
			smoothed = in.PriorSmoothed + maxDelta
		}
		if smoothed < in.PriorSmoothed-maxDelta {
			smoothed = in.PriorSmoothed - maxDelta
		}
	}

	if smoothed < config.CooldownMinTau2 {
		smoothed = config.CooldownMinTau2
	}
	if smoothed > config.CooldownMaxTau2 {
		smoothed = config.CooldownMaxTau2
	}
	return smoothed, nil
}

// sortCandidatesByPubKey returns candidates in a stable, canonical order
// so every node's tie-break in WeightedWinner agrees regardless of the
// order candidates were collected/passed in. Used by Slots.
func sortCandidatesByPubKey(candidates []Candidate) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].PubKeyBytes) < string(out[j].PubKeyBytes)
	})
	return out
}
