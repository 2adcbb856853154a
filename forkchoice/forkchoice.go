// Package forkchoice selects the canonical tip and gates reorganizations
// per spec.md §4.4 (C8). It operates over candidate tip summaries (hash,
// parent, height, cumulative weight) handed to it by the sync/validation
// pipeline; forkchoice itself never touches storage directly, matching
// spec.md §3.4's "C5/C6/C7/C8 hold read-only views" ownership rule.
package forkchoice

import (
	"bytes"
	"math/big"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

// TipCandidate is the minimal summary forkchoice needs to rank a chain.
type TipCandidate struct {
	Hash             hash.Digest
	ParentHash       hash.Digest
	Height           uint64
	CumulativeWeight types.Weight128
}

// CanonicalTip picks the candidate with the highest cumulative weight,
// ties broken by lower slice hash, spec.md §4.4.
func CanonicalTip(candidates []TipCandidate) (TipCandidate, bool) {
	if len(candidates) == 0 {
		return TipCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch c.CumulativeWeight.Cmp(best.CumulativeWeight) {
		case 1:
			best = c
		case 0:
			if bytes.Compare(c.Hash[:], best.Hash[:]) < 0 {
				best = c
			}
		}
	}
	return best, true
}

// SlashingThreshold computes max(1, 0.1·currentTipWeight − forkPointWeight)
// in big.Int, spec.md §4.4's reorg-acceptance rule. The subtraction floors
// at zero (Weight128 is unsigned; a negative requirement is meaningless),
// and the result is floored at 1 so a reorg always requires strictly more
// weight than the current tip.
func SlashingThreshold(currentTipWeight, forkPointWeight types.Weight128) *big.Int {
	tenPercent := new(big.Int).Div(currentTipWeight.BigInt(), big.NewInt(10))
	diff := new(big.Int).Sub(tenPercent, forkPointWeight.BigInt())
	if diff.Sign() < 0 {
		diff.SetInt64(0)
	}
	if diff.Cmp(big.NewInt(1)) < 0 {
		diff.SetInt64(1)
	}
	return diff
}

// ReorgDecision is the outcome of evaluating a proposed reorganization.
type ReorgDecision struct {
	Allowed bool
	Reason  string
}

// EvaluateReorg gates a proposed new tip against the current one, per
// spec.md §4.4: (a) cannot cross a FINAL slice, (b) must exceed current
// tip weight by at least the slashing threshold computed from the common
// ancestor (fork point) weight, and (c) at SAFE depth (the fork point is
// 6 or more descendants behind the current tip, spec.md §4.4/§8) the
// candidate's cumulative weight must additionally be at least
// `SafeReorgWeightMultiple`x the fork point's weight — a reorg of depth
// exactly FinalFinalityDepth (2016) is always rejected as crossing FINAL,
// while depth FinalFinalityDepth-1 is allowed if it clears the 6x bar.
// depth is `currentTip.Height - forkPointHeight`, the number of
// descendant slices being reorganized out.
func EvaluateReorg(currentTip, candidateTip TipCandidate, forkPointHeight uint64, forkPointWeight types.Weight128, lastFinalHeight uint64, depth uint64) (ReorgDecision, error) {
	if forkPointHeight < lastFinalHeight || depth >= config.FinalFinalityDepth {
		return ReorgDecision{}, acperr.New(acperr.Consensus, "ReorgCrossesFinal", nil)
	}

	threshold := SlashingThreshold(currentTip.CumulativeWeight, forkPointWeight)
	candidateBig := candidateTip.CumulativeWeight.BigInt()
	currentBig := currentTip.CumulativeWeight.BigInt()
	required := new(big.Int).Add(currentBig, threshold)

	if candidateBig.Cmp(required) < 0 {
		return ReorgDecision{Allowed: false, Reason: "insufficient weight margin"}, nil
	}

	if depth >= config.SafeFinalityDepth {
		if !candidateTip.CumulativeWeight.GreaterOrEqualScaled(forkPointWeight, config.SafeReorgWeightMultiple, 1) {
			return ReorgDecision{Allowed: false, Reason: "insufficient SAFE-depth weight margin"}, nil
		}
	}
	return ReorgDecision{Allowed: true}, nil
}

// SlashSet tracks nodes currently quarantined for equivocation (spec.md
// §3.3: "equivocation ... removes the signer from the lottery for τ₃").
// Safe for concurrent read access via Quarantined; Record should be called
// only from the single chain-state writer, matching spec.md §5's
// single-writer/multi-reader contract.
type SlashSet struct {
	until map[ids.NodeID]types.Tau2Index
}

func NewSlashSet() *SlashSet {
	return &SlashSet{until: make(map[ids.NodeID]types.Tau2Index)}
}

// Record quarantines nodeID through observedTau2Index + windowTau2, per
// spec.md §3.3's equivocation rule.
func (s *SlashSet) Record(nodeID ids.NodeID, observedTau2Index types.Tau2Index, windowTau2 uint64) {
	s.until[nodeID] = observedTau2Index + types.Tau2Index(windowTau2)
}

// Quarantined reports whether nodeID is still excluded from the lottery
// at tau2Index.
func (s *SlashSet) Quarantined(nodeID ids.NodeID, tau2Index types.Tau2Index) bool {
	until, ok := s.until[nodeID]
	if !ok {
		return false
	}
	return tau2Index < until
}

// defaultEquivocationLotteryWindowTau2 is the τ₃ removal window of spec.md
// §3.3 (distinct from the 180-day INTEGRITY quarantine of §4.6, which
// weight.EquivocationQuarantineTau2 tracks separately).
const defaultEquivocationLotteryWindowTau2 = 144 // one τ₃ = 144 τ₂

func DefaultEquivocationLotteryWindow() uint64 {
	return defaultEquivocationLotteryWindowTau2
}
