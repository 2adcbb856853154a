// Package vrf implements the VRF contract of spec.md §4.1 and resolves the
// open question in spec.md §9 ("exact VRF construction... the source
// equivocates; implementers MUST choose one and pin it"): this core pins
// a hash-then-sign construction. beta is derived deterministically from
// the prover's secret key material and the input via SHA3-256 (so the
// round-trip law in spec.md §8, "vrf_prove(sk,x).β = vrf_prove(sk,x).β
// across reruns", holds unconditionally rather than depending on a
// particular signature scheme's internal randomness handling); pi is an
// ML-DSA-65 signature over (input ∥ beta) that lets anyone holding the
// public key confirm the key-holder endorses that exact beta for that
// exact input, without needing the secret key to recompute anything.
//
// This is a one-way door per spec.md §9: changing it requires a hard fork.
package vrf

import (
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/pq"
)

// domainTag separates VRF beta derivation from any other use of the same
// secret key (presence/slice signing), so a beta can never be confused
// for, or substituted by, an ordinary signature.
var domainTag = []byte("montana-acp/vrf/v1")

// Proof is the ML-DSA-65 signature binding pi's holder to a specific
// (input, beta) pair.
type Proof = pq.Signature

// Prove computes beta and pi for input under sk.
func Prove(sk pq.PrivateKey, input []byte) (beta hash.Digest, pi Proof) {
	skBytes, err := sk.MarshalBinary()
	if err != nil {
		return hash.Digest{}, nil
	}
	beta = hash.Sum(skBytes, input, domainTag)
	sig := pq.Sign(sk, bindMessage(input, beta))
	return beta, Proof(sig)
}

// Verify checks that pi is a valid signature binding input to beta under
// pk. Never panics on malformed input.
func Verify(pk pq.PublicKey, input []byte, beta hash.Digest, pi Proof) bool {
	return pq.Verify(pk, bindMessage(input, beta), pq.Signature(pi))
}

func bindMessage(input []byte, beta hash.Digest) []byte {
	msg := make([]byte, 0, len(input)+hash.Size)
	msg = append(msg, input...)
	msg = append(msg, beta[:]...)
	return msg
}

// Uniform exposes beta as a fixed-size big-endian value for threshold
// comparisons expressed as a fraction of the 256-bit space (spec.md
// §4.3's `H(seed ∥ pubkey) / 2²⁵⁶ < w_i / Σw`).
func Uniform(beta hash.Digest) [32]byte {
	return [32]byte(beta)
}
