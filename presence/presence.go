// Package presence implements the presence & slice builder of spec.md
// §4.2 (C5): τ₁ presence emission, τ₂ slice assembly, and the 8-step
// validate_slice pipeline, plus the slice-producer state machine. Grounded
// on the teacher's wave.Wave state-machine shape (Transport interface +
// small mutex-protected per-item state) generalized from vote rounds to
// the single-producer-per-τ₂ role.
package presence

import (
	"time"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/types"
)

// Emit produces a signed PresenceProof for the current τ₁ tick, spec.md
// §4.2's emit_presence operation: sign (τ₂-index, τ₁-bitmap-bit,
// prev-slice-hash, now) with ML-DSA-65.
func Emit(sk pq.PrivateKey, pk pq.PublicKey, kind types.PresenceKind, tau2Index types.Tau2Index, tau1Bit uint16, prevSliceHash hash.Digest, now types.WallClock, cooldownUntil types.Tau2Index) *types.PresenceProof {
	p := &types.PresenceProof{
		Kind:           kind,
		ProducerPubKey: pk,
		Tau2Index:      tau2Index,
		Tau1Bitmap:     1 << tau1Bit,
		PrevSliceHash:  prevSliceHash,
		Timestamp:      now,
		CooldownUntil:  cooldownUntil,
	}
	p.Signature = pq.Sign(sk, p.SigningMessage())
	return p
}

// VerifyPresence checks a presence's ML-DSA-65 signature.
func VerifyPresence(p *types.PresenceProof) bool {
	return pq.Verify(p.ProducerPubKey, p.SigningMessage(), p.Signature)
}

// Pool is the τ₂ mempool of presences awaiting inclusion, expiring entries
// after config.PresenceExpiryTau2 τ₂ of non-inclusion per spec.md §3.4.
type Pool struct {
	byKey map[types.PresenceKey]*types.PresenceProof
}

func NewPool() *Pool {
	return &Pool{byKey: make(map[types.PresenceKey]*types.PresenceProof)}
}

// Add inserts a presence, rejecting a duplicate (pubkey, τ₂-index) pair
// per spec.md §3.3's non-duplicate invariant.
func (p *Pool) Add(proof *types.PresenceProof) error {
	key, err := proof.Key()
	if err != nil {
		return acperr.New(acperr.Crypto, "PresenceKeyDerivation", err)
	}
	if _, exists := p.byKey[key]; exists {
		return acperr.New(acperr.Consensus, "DuplicatePresence", nil)
	}
	p.byKey[key] = proof
	return nil
}

// Take returns and removes all pooled presences whose τ₂-index is
// currentTau2Index, for inclusion in the slice currently being assembled.
func (p *Pool) Take(currentTau2Index types.Tau2Index) []*types.PresenceProof {
	var out []*types.PresenceProof
	for k, v := range p.byKey {
		if k.Tau2Index == currentTau2Index {
			out = append(out, v)
			delete(p.byKey, k)
		}
	}
	return out
}

// ExpireOlderThan drops presences whose τ₂-index is more than
// PresenceExpiryTau2 behind currentTau2Index (spec.md §3.4: "discarded
// from mempool after inclusion or expiry (2 τ₂ of non-inclusion)").
func (p *Pool) ExpireOlderThan(currentTau2Index types.Tau2Index) {
	for k := range p.byKey {
		if currentTau2Index > k.Tau2Index && uint64(currentTau2Index-k.Tau2Index) > config.PresenceExpiryTau2 {
			delete(p.byKey, k)
		}
	}
}

func (p *Pool) Len() int { return len(p.byKey) }

// nowSeconds reads the system wall clock; it is a plain function, not a
// replaceable variable. Production callers pass real wall clock values
// explicitly rather than relying on package state, matching spec.md §9's
// "no module-level mutable state" design note — Now wraps it as a
// convenience for CLI callers.
func nowSeconds() types.WallClock {
	return types.WallClock(time.Now().Unix())
}

// Now returns the current wall-clock time as spec.md's WallClock type.
func Now() types.WallClock {
	return nowSeconds()
}
