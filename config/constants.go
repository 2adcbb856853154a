// Package config assembles the node's runtime configuration from named
// presets plus override hooks, grounded on the teacher's config/builder.go
// + config/presets.go, replacing the teacher's DESIGN NOTES-flagged global
// singletons (spec.md §9) with an explicit struct threaded through every
// component's constructor.
package config

import "time"

// Time coordinates, spec.md §3.1.
const (
	Tau1 = 60 * time.Second          // presence-signing interval
	Tau2 = 10 * time.Minute          // slice interval (10 τ₁)
	Tau3 = 24 * time.Hour            // finality checkpoint / cooldown window (144 τ₂)
	Tau4SlicesApprox = 210_000       // halving interval, in slices (~4 years)

	SlotsPerTau2 = 10 // primary + 9 fallback lottery slots (spec.md §4.3)

	BootstrapMaxDriftSeconds      = 600 // ±600s at bootstrap
	SliceAcceptDriftSeconds       = 5   // ±5s relative to parent VDF-anchored time

	PresenceExpiryTau2 = 2 // discarded from mempool after 2τ₂ of non-inclusion

	SafeFinalityDepth  = 6    // descendant slices for SAFE
	FinalFinalityDepth = 2016 // descendant slices for FINAL (≈14 days of τ₂ slices)

	ReorgSlashingWeightFraction = 0.10 // "0.1 × current tip weight − parent weight"
	SafeReorgWeightMultiple     = 6    // SAFE-depth reorg requires ≥6x the fork point's cumulative weight

	InitialRewardMontana  = 3000
	HalvingIntervalSlices = 210_000
	MaxHalvings           = 64

	CooldownMinTau2 = 144    // clamp lower bound
	CooldownMaxTau2 = 25_920 // clamp upper bound
	CooldownSmoothingAlpha     = 0.25 // exponential smoothing over 4 τ₃
	CooldownMaxDeltaFraction   = 0.20 // ±20% change per τ₃

	TierOneProbability   = 0.70 // Full Node
	TierTwoProbability   = 0.20 // Verified User
	TierThreeProbability = 0.10 // Light client

	MaxMessageSize = 4 << 20 // MAX_TX_SIZE = 4MiB
	MaxAddrCount   = 1000
	MaxInvCount    = 50_000

	MaxInbound            = 117
	MinOutboundAntiEclipse = 8
	PerIPConnectionCap     = 2
	PerNetgroupCap         = 2

	ProtectedNoBan          = 4
	ProtectedNetgroupDiverse = 4
	ProtectedLowestPing      = 8
	ProtectedRecentTxRelay   = 4
	ProtectedRecentSliceRelay = 4
	ProtectedLongestConnected = 8
	// total protected = 32 of 117, spec.md §4.5

	AddrNewBuckets        = 1024
	AddrNewSlotsPerBucket = 64
	AddrTriedBuckets      = 256
	AddrTriedSlotsPerBucket = 64
	AddrBookMaxBytes      = 16 << 20

	MaxBans = 100_000

	MinHardcodedNodes       = 5
	RecommendedHardcodedMin = 10
	HardcodedQuorumFraction = 0.75 // MIN_HARDCODED_RESPONSES
	P2PConsensusFraction    = 0.50 // MIN_CONSENSUS_PEERS, strictly greater-than
	P2PSampleSize           = 100
	MinDiverseSubnets       = 25
	MaxHardcodedDeviation   = 0.01
	GossipDiscoverPeers     = 80

	ConnectHandshakeTimeout = 60 * time.Second
	GetDataInFlightTimeout  = 30 * time.Second
	BootstrapOverallTimeout = 10 * time.Minute

	SyncMaxSlicesPerRequest  = 500
	SyncMaxInFlight          = 10_000
	OrphanPoolMax            = 100
	MaxFlowControlPausesPerPeer = 50

	DefaultPort = 19333
)

// Per-message-class token-bucket rate limits, spec.md §4.5. Rates are in
// messages/second; bursts are the bucket capacity.
const (
	AddrRateBurst         = 1000
	AddrRatePerSecond     = 0.1
	InvRateBurst          = 10_000
	InvRatePerSecond      = 100
	GetDataRateBurst      = 1000
	GetDataRatePerSecond  = 5
	HeadersRateBurst      = 5000
	HeadersRatePerSecond  = 10
	AuthChallengeRateBurst     = 5
	AuthChallengeRatePerSecond = 0.1

	// Global adaptive per-/16 subnet limiter: the inner tier bounds a
	// single netgroup's instantaneous burst, the outer tier bounds its
	// sustained rate once the inner tier is exhausted repeatedly.
	NetgroupInnerBurst     = 200
	NetgroupInnerPerSecond = 20
	NetgroupOuterBurst     = 50
	NetgroupOuterPerSecond = 2
)
