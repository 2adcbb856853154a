package config

// RateLimitSpec is a token-bucket specification: Burst tokens, refilled at
// RatePerSec tokens/second. Spec.md §4.5's per-message-class limits.
type RateLimitSpec struct {
	Burst      float64
	RatePerSec float64
}

// MessageClassLimits are the default per-peer token buckets, spec.md §4.5.
var MessageClassLimits = map[string]RateLimitSpec{
	"Addr":          {Burst: 1000, RatePerSec: 0.1},
	"Inv":           {Burst: 10_000, RatePerSec: 100},
	"GetData":       {Burst: 1000, RatePerSec: 5},
	"Headers":       {Burst: 5000, RatePerSec: 10},
	"Slice":         {Burst: 10, RatePerSec: 10.0 / 600}, // matches presence cadence: one token per τ1, ten per τ2
	"AuthChallenge": {Burst: 5, RatePerSec: 0.1},
}
