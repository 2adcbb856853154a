// Package weight computes the five NodeWeight dimensions of spec.md §4.6
// and the anti-cluster adjustments of §4.7. Every dimension is a pure
// function of authenticated, persisted state — no off-chain timers or
// inputs contribute to a lottery-relevant dimension, per spec.md §3.4.
package weight

import (
	"math"

	"github.com/montana-acp/core/types"
)

const (
	timeSaturationSeconds = 180 * 24 * 60 * 60 // 15,552,000s = 180 days

	infractionInvalidSlice   = 0.15
	infractionInvalidVRF     = 0.20
	infractionInvalidVDF     = 0.25
	infractionSpam           = 0.20
	infractionEquivocation   = 1.0
	integrityDecayPerTau3    = 0.01

	// EquivocationQuarantineTau2 is the 180-day quarantine window of
	// spec.md §4.6 ("equivocation −1.0 + 180-day quarantine"), expressed
	// in τ₂ units: 180*24*60/10.
	EquivocationQuarantineTau2 = 25_920

	geographyMaxCountries = 50
	handshakeMaxPartners  = 10
)

// Time computes TIME = min(continuous_uptime_seconds / 15,552,000, 1.0),
// spec.md §4.6.
func Time(continuousUptimeSeconds uint64) float64 {
	v := float64(continuousUptimeSeconds) / float64(timeSaturationSeconds)
	return clamp01(v)
}

// InfractionKind enumerates the INTEGRITY decrement events of spec.md §4.6.
type InfractionKind int

const (
	InvalidSlice InfractionKind = iota
	InvalidVRF
	InvalidVDF
	Spam
	Equivocation
)

func (k InfractionKind) penalty() float64 {
	switch k {
	case InvalidSlice:
		return infractionInvalidSlice
	case InvalidVRF:
		return infractionInvalidVRF
	case InvalidVDF:
		return infractionInvalidVDF
	case Spam:
		return infractionSpam
	case Equivocation:
		return infractionEquivocation
	default:
		return 0
	}
}

// Integrity folds a starting score through infractions and τ₃-periods of
// clean behavior (+0.01 per τ₃, capped at 1.0), per spec.md §4.6.
func Integrity(infractions []InfractionKind, cleanTau3Periods int) float64 {
	score := 1.0
	for _, inf := range infractions {
		score -= inf.penalty()
	}
	score += float64(cleanTau3Periods) * integrityDecayPerTau3
	return clamp01(score)
}

// Storage computes STORAGE = min(locally_stored / total_canonical, 1.0).
func Storage(locallyStoredCanonicalSlices, totalCanonicalSlices uint64) float64 {
	if totalCanonicalSlices == 0 {
		return 0
	}
	return clamp01(float64(locallyStoredCanonicalSlices) / float64(totalCanonicalSlices))
}

// Geography computes GEOGRAPHY = 0.6·rarity + 0.4·diversity, spec.md §4.6.
// Best-effort per spec.md §9: inputs derive from rDNS/ASN heuristics outside
// this package's concern; this function only implements the deterministic
// reduction once those counts are known.
func Geography(nodesInSameCountry uint64, distinctCountriesObserved int) float64 {
	rarity := 1.0 / (1.0 + math.Log10(1+float64(nodesInSameCountry)))
	diversity := math.Min(1.0, float64(distinctCountriesObserved)/geographyMaxCountries)
	return clamp01(0.6*rarity + 0.4*diversity)
}

// Handshake computes HANDSHAKE = min(valid_handshake_partners/10, 1.0).
func Handshake(validPartners int) float64 {
	return clamp01(float64(validPartners) / handshakeMaxPartners)
}

// HandshakeEligible reports whether two nodes' dimension snapshots qualify
// for a mutual-trust handshake per spec.md §4.6's five-way gate.
func HandshakeEligible(a, b Dimensions, aCountry, bCountry string, behavioralCorrelation float64, sameCluster bool) bool {
	if sameCluster || aCountry == bCountry {
		return false
	}
	if behavioralCorrelation >= 0.5 {
		return false
	}
	ok := func(d Dimensions) bool {
		return d.Time >= 0.9 && d.Integrity >= 0.8 && d.Storage >= 0.9 && d.GeographyRegistered
	}
	return ok(a) && ok(b)
}

// Dimensions is a snapshot of a node's five raw dimensions prior to
// aggregation and the §4.7 penalties.
type Dimensions struct {
	Time                float64
	Integrity           float64
	Storage             float64
	Geography           float64
	GeographyRegistered bool
	Handshake           float64
	Quarantined         bool
}

// Aggregate computes the weighted sum of spec.md §4.6, zeroed during
// quarantine (equivocation penalty window).
func (d Dimensions) Aggregate() float64 {
	if d.Quarantined {
		return 0
	}
	return 0.50*d.Time + 0.20*d.Integrity + 0.15*d.Storage + 0.10*d.Geography + 0.05*d.Handshake
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ToNodeWeight projects Dimensions onto the persisted types.NodeWeight shape.
func ToNodeWeight(id types.NodeWeight, d Dimensions) types.NodeWeight {
	id.Time = d.Time
	id.Integrity = d.Integrity
	id.Storage = d.Storage
	id.Geography = d.Geography
	id.Handshake = d.Handshake
	return id
}
