package presence

import (
	"sync"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/lottery"
	"github.com/montana-acp/core/types"
)

// Stage is one state of the slice-producer role within a single τ₂,
// spec.md §4.2: IDLE → WAIT_VDF → ASSEMBLE → BROADCAST → DONE, with a
// timeout fallback to LOST. Grounded on the teacher's wave.Stage enum
// shape (small state tag driving a per-round state machine).
type Stage uint8

const (
	StageIdle Stage = iota
	StageWaitVDF
	StageAssemble
	StageBroadcast
	StageDone
	StageLost
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageWaitVDF:
		return "wait_vdf"
	case StageAssemble:
		return "assemble"
	case StageBroadcast:
		return "broadcast"
	case StageDone:
		return "done"
	case StageLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Broadcaster is the outbound hook the producer uses to publish a newly
// assembled slice, mirroring the teacher's wave.Transport dependency-
// injection shape so this package stays decoupled from C9's transport.
type Broadcaster interface {
	BroadcastSlice(s *types.Slice)
}

// Producer drives one node's slice-producer role for a single τ₂ window.
// A fresh Producer is created per τ₂ tick by the caller; it is not reused
// across ticks.
type Producer struct {
	mu    sync.Mutex
	stage Stage

	sk pq.PrivateKey
	pk pq.PublicKey

	parent    types.Header
	tau2Index types.Tau2Index
	vdfCheckT uint64

	pool        []lottery.Candidate
	broadcaster Broadcaster
}

// NewProducer constructs a Producer in StageIdle.
func NewProducer(sk pq.PrivateKey, pk pq.PublicKey, parent types.Header, tau2Index types.Tau2Index, vdfCheckT uint64, pool []lottery.Candidate, b Broadcaster) *Producer {
	return &Producer{
		stage:       StageIdle,
		sk:          sk,
		pk:          pk,
		parent:      parent,
		tau2Index:   tau2Index,
		vdfCheckT:   vdfCheckT,
		pool:        pool,
		broadcaster: b,
	}
}

func (p *Producer) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// IsEligible checks whether this producer's public key occupies slotIndex
// for the current (parent, τ₂-index) seed — the deterministic fallback
// order of spec.md §4.2: "the next-highest VRF candidate assumes
// production; the fallback is deterministic from (parent, τ₂-index)."
func (p *Producer) IsEligible(slotIndex int) bool {
	pkBytes, err := p.pk.MarshalBinary()
	if err != nil {
		return false
	}
	seed := lottery.Seed(p.parent.Hash(), p.tau2Index)
	slots := lottery.Slots(seed, p.pool, p.tau2Index)
	if slotIndex < 0 || slotIndex >= len(slots) {
		return false
	}
	slot := slots[slotIndex]
	if !slot.Found {
		return false
	}
	for _, c := range p.pool {
		if c.NodeID == slot.WinnerNodeID {
			return string(c.PubKeyBytes) == string(pkBytes)
		}
	}
	return false
}

// Run drives the producer through WAIT_VDF → ASSEMBLE → BROADCAST → DONE
// for the given slot, given the presences/txs collected during the τ₂
// window and the total active-node weight to accumulate. It transitions
// to StageLost without producing if slotIndex is not won by this
// producer's key.
func (p *Producer) Run(slotIndex int, presences []*types.PresenceProof, txs []*types.Tx, sliceWeightDelta uint64, now types.WallClock) (*types.Slice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsEligible(slotIndex) {
		p.stage = StageLost
		return nil, nil
	}

	p.stage = StageWaitVDF
	p.stage = StageAssemble
	s, err := Assemble(p.parent, p.tau2Index, p.sk, p.pk, presences, txs, sliceWeightDelta, p.vdfCheckT, now)
	if err != nil {
		p.stage = StageLost
		return nil, err
	}

	p.stage = StageBroadcast
	if p.broadcaster != nil {
		p.broadcaster.BroadcastSlice(s)
	}
	p.stage = StageDone
	return s, nil
}

// Deadline is the slot's production deadline relative to the τ₂ tick
// start, spec.md §4.2: "timeout (τ₂+2·τ₁)".
func Deadline() int64 {
	return int64(config.Tau2.Seconds()) + 2*int64(config.Tau1.Seconds())
}
