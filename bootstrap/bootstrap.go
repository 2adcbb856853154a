// Package bootstrap implements the cold-start verifier of spec.md §4.8
// (C12): querying a pinned set of hardcoded nodes plus a broader sample of
// consensus peers, checking quorum, subnet diversity, tip-weight
// deviation, clock drift, and header continuity back to the last known
// FINAL checkpoint before the node trusts its view of the chain enough to
// start participating.
//
// Grounded on forkchoice's read-only-summary ownership style (bootstrap
// never touches storage or the network directly — it is handed response
// summaries the network layer collected, and returns a decision), and on
// acperr's Bootstrap error kind (spec.md §7: "Fatal: the node refuses to
// start") for every abort path — no partial success, matching spec.md's
// explicit "abort codes ... with no partial success" requirement.
package bootstrap

import (
	"math/big"
	"sort"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

// HardcodedNode pins a well-known bootstrap node's identity, per spec.md
// §4.8's "pinned ML-DSA-65 public keys".
type HardcodedNode struct {
	NodeID    ids.NodeID
	PublicKey []byte // ML-DSA-65 public key, MarshalBinary-encoded
}

// Response is one queried peer's answer to the bootstrap challenge,
// already signature-verified by the caller (network/transport + the
// AuthChallenge/AuthResponse exchange) before being handed to Decide.
type Response struct {
	NodeID           ids.NodeID
	IsHardcoded      bool
	Netgroup         string
	TipHash          hash.Digest
	TipHeight        uint64
	TipCumulative    types.Weight128
	ReportedWallTime types.WallClock
	// HeaderChain is the response's claimed header chain back to (at
	// least) the node's last known FINAL checkpoint, oldest first.
	HeaderChain []types.Header
}

// LastKnownCheckpoint is the node's own last-persisted FINAL checkpoint,
// against which every response's HeaderChain must verify.
type LastKnownCheckpoint struct {
	Height uint64
	Hash   hash.Digest
}

// AbortCode enumerates spec.md §4.8's named abort reasons.
type AbortCode string

const (
	AbortTooFewHardcoded          AbortCode = "TooFewHardcoded"
	AbortTooLittleSubnetDiversity AbortCode = "TooLittleSubnetDiversity"
	AbortTooFewConsensusPeers     AbortCode = "TooFewConsensusPeers"
	AbortHardcodedDeviation       AbortCode = "HardcodedDeviation"
	AbortTimeDrift                AbortCode = "TimeDrift"
	AbortHeaderVerifyFail         AbortCode = "HeaderVerifyFail"
)

// Decision is the bootstrap verifier's final, all-or-nothing outcome.
type Decision struct {
	AcceptedTip hash.Digest
	AtHeight    uint64
}

// Decide runs spec.md §4.8's full gate over the collected responses,
// returning either a Decision (proceed) or an *acperr.Error of Kind
// Bootstrap carrying one of the AbortCode values (refuse to start). There
// is no partial-success return: any single failed check aborts the whole
// attempt.
//
// totalHardcodedNodes is the actual number of hardcoded nodes configured
// for this run (spec.md §4.8: "≥⌈0.75·N⌉ of the actual hardcoded set"),
// not a fixed recommended default — a deployment pinning more or fewer
// hardcoded nodes than config.RecommendedHardcodedMin still gets a
// correctly-scaled quorum requirement.
func Decide(responses []Response, localWallTime types.WallClock, checkpoint LastKnownCheckpoint, totalHardcodedNodes int, verifyHeaderChain func(chain []types.Header, checkpoint LastKnownCheckpoint) bool) (Decision, error) {
	hardcoded := filter(responses, func(r Response) bool { return r.IsHardcoded })
	minHardcoded := int(ceil(float64(totalHardcodedNodes) * config.HardcodedQuorumFraction))
	if len(hardcoded) < minHardcoded {
		return Decision{}, acperr.New(acperr.Bootstrap, string(AbortTooFewHardcoded), nil)
	}

	if len(responses) < requiredConsensusPeers() {
		return Decision{}, acperr.New(acperr.Bootstrap, string(AbortTooFewConsensusPeers), nil)
	}

	if distinctNetgroups(responses) < config.MinDiverseSubnets {
		return Decision{}, acperr.New(acperr.Bootstrap, string(AbortTooLittleSubnetDiversity), nil)
	}

	medianCumulative := medianWeight(extractWeights(responses))
	for _, r := range hardcoded {
		if deviatesFraction(r.TipCumulative, medianCumulative) > config.MaxHardcodedDeviation {
			return Decision{}, acperr.New(acperr.Bootstrap, string(AbortHardcodedDeviation), nil)
		}
	}

	for _, r := range responses {
		drift := int64(r.ReportedWallTime) - int64(localWallTime)
		if drift < 0 {
			drift = -drift
		}
		if drift > config.BootstrapMaxDriftSeconds {
			return Decision{}, acperr.New(acperr.Bootstrap, string(AbortTimeDrift), nil)
		}
	}

	for _, r := range responses {
		if !verifyHeaderChain(r.HeaderChain, checkpoint) {
			return Decision{}, acperr.New(acperr.Bootstrap, string(AbortHeaderVerifyFail), nil)
		}
	}

	best := responses[0]
	for _, r := range responses[1:] {
		if r.TipCumulative.Cmp(best.TipCumulative) > 0 {
			best = r
		}
	}
	return Decision{AcceptedTip: best.TipHash, AtHeight: best.TipHeight}, nil
}

func requiredConsensusPeers() int {
	// strictly greater than P2PConsensusFraction of the sample size.
	return int(float64(config.P2PSampleSize)*config.P2PConsensusFraction) + 1
}

func filter(rs []Response, pred func(Response) bool) []Response {
	var out []Response
	for _, r := range rs {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func distinctNetgroups(rs []Response) int {
	seen := make(map[string]bool)
	for _, r := range rs {
		seen[r.Netgroup] = true
	}
	return len(seen)
}

func extractWeights(rs []Response) []types.Weight128 {
	out := make([]types.Weight128, len(rs))
	for i, r := range rs {
		out[i] = r.TipCumulative
	}
	return out
}

// medianWeight returns the median of a set of Weight128 values by sorting
// on their big.Int magnitude.
func medianWeight(ws []types.Weight128) types.Weight128 {
	sorted := append([]types.Weight128(nil), ws...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	return sorted[len(sorted)/2]
}

// deviatesFraction returns |w - median| / median as a float64, or 0 if
// median is zero (nothing to deviate from).
func deviatesFraction(w, median types.Weight128) float64 {
	m := median.BigInt()
	if m.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(w.BigInt(), m)
	diff.Abs(diff)

	ratio := new(big.Rat).SetFrac(diff, m)
	f, _ := ratio.Float64()
	return f
}

func ceil(f float64) float64 {
	i := float64(int64(f))
	if i < f {
		return i + 1
	}
	return i
}
