package bootstrap

import (
	"testing"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

func idOf(b byte) ids.NodeID {
	var arr [20]byte
	arr[0] = b
	return ids.NodeID(arr)
}

func alwaysVerifies([]types.Header, LastKnownCheckpoint) bool { return true }
func neverVerifies([]types.Header, LastKnownCheckpoint) bool  { return false }

// fixtureTotalHardcoded is the number of hardcoded nodes configured for
// this run, used both to size the fixture and as the quorum base passed
// to Decide — deliberately distinct from config.RecommendedHardcodedMin
// to prove the quorum is computed from the actual set, not the default.
const fixtureTotalHardcoded = 14

// fixtureResponses builds enough hardcoded + consensus-peer responses to
// satisfy every quorum/diversity check, all agreeing on the same tip.
func fixtureResponses(t *testing.T) []Response {
	t.Helper()
	tip := hash.Sum([]byte("tip"))
	weight := types.Weight128{Lo: 1_000_000}

	minHardcoded := int(float64(fixtureTotalHardcoded)*config.HardcodedQuorumFraction) + 1
	needConsensus := requiredConsensusPeers()
	total := minHardcoded
	if needConsensus > total {
		total = needConsensus
	}
	if config.MinDiverseSubnets > total {
		total = config.MinDiverseSubnets
	}

	var out []Response
	for i := 0; i < total; i++ {
		out = append(out, Response{
			NodeID:           idOf(byte(i % 250)),
			IsHardcoded:      i < minHardcoded,
			Netgroup:         netgroupFor(i),
			TipHash:          tip,
			TipHeight:        1000,
			TipCumulative:    weight,
			ReportedWallTime: 1_700_000_000,
		})
	}
	return out
}

func netgroupFor(i int) string {
	// Ensure at least MinDiverseSubnets distinct /16s among the responses.
	return string(rune('A'+(i%26))) + string(rune('a'+((i/26)%26)))
}

func TestDecideAcceptsWellFormedQuorum(t *testing.T) {
	responses := fixtureResponses(t)
	dec, err := Decide(responses, 1_700_000_000, LastKnownCheckpoint{}, fixtureTotalHardcoded, alwaysVerifies)
	if err != nil {
		t.Fatalf("expected Decide to succeed, got %v", err)
	}
	if dec.AtHeight != 1000 {
		t.Fatalf("expected accepted height 1000, got %d", dec.AtHeight)
	}
}

func TestDecideRejectsTooFewHardcoded(t *testing.T) {
	responses := fixtureResponses(t)
	for i := range responses {
		responses[i].IsHardcoded = false
	}
	_, err := Decide(responses, 1_700_000_000, LastKnownCheckpoint{}, fixtureTotalHardcoded, alwaysVerifies)
	assertAbortCode(t, err, AbortTooFewHardcoded)
}

func TestDecideRejectsTimeDrift(t *testing.T) {
	responses := fixtureResponses(t)
	responses[0].ReportedWallTime = 0
	_, err := Decide(responses, 1_700_000_000, LastKnownCheckpoint{}, fixtureTotalHardcoded, alwaysVerifies)
	assertAbortCode(t, err, AbortTimeDrift)
}

func TestDecideRejectsHeaderVerifyFailure(t *testing.T) {
	responses := fixtureResponses(t)
	_, err := Decide(responses, 1_700_000_000, LastKnownCheckpoint{}, fixtureTotalHardcoded, neverVerifies)
	assertAbortCode(t, err, AbortHeaderVerifyFail)
}

func TestDecideRejectsHardcodedDeviation(t *testing.T) {
	responses := fixtureResponses(t)
	for i := range responses {
		if responses[i].IsHardcoded {
			responses[i].TipCumulative = types.Weight128{Lo: 1} // wildly off the median
		}
	}
	_, err := Decide(responses, 1_700_000_000, LastKnownCheckpoint{}, fixtureTotalHardcoded, alwaysVerifies)
	assertAbortCode(t, err, AbortHardcodedDeviation)
}

func assertAbortCode(t *testing.T, err error, want AbortCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an abort error %q, got nil", want)
	}
	if !acperr.Is(err, acperr.Bootstrap) {
		t.Fatalf("expected a Bootstrap-kind error, got %v", err)
	}
	if got := acperr.CodeOf(err); got != string(want) {
		t.Fatalf("expected abort code %q, got %q", want, got)
	}
}
