// Package pq implements the PQ signature contract of spec.md §4.1:
// ML-DSA-65 sign/verify, consumed as a black box (key and signature sizes
// are fixed by the standard: public key 1952 B, secret key 4032 B,
// signature ≈3309 B).
//
// Supersedes the teacher's crypto/pq (a Ringtail stub) and crypto/bls
// (classical BLS aggregation) packages: spec.md §4.1 pins ML-DSA-65
// specifically, and github.com/cloudflare/circl is the only NIST-PQC
// implementation anywhere in the retrieved pack (pulled in transitively by
// the teacher's own go.mod). See DESIGN.md for the drop rationale.
package pq

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
)

const schemeName = "ML-DSA-65"

var scheme = mustScheme(schemeName)

func mustScheme(name string) sign.Scheme {
	s := schemes.ByName(name)
	if s == nil {
		panic(fmt.Sprintf("pq: signature scheme %q not registered", name))
	}
	return s
}

// PublicKey, PrivateKey wrap the scheme-generic circl types so the rest of
// the core never imports circl directly.
type (
	PublicKey  struct{ inner sign.PublicKey }
	PrivateKey struct{ inner sign.PrivateKey }
	Signature  []byte
)

// SignatureSize is the fixed ML-DSA-65 signature length.
func SignatureSize() int { return scheme.SignatureSize() }

// PublicKeySize / PrivateKeySize are the fixed ML-DSA-65 key lengths.
func PublicKeySize() int  { return scheme.PublicKeySize() }
func PrivateKeySize() int { return scheme.PrivateKeySize() }

// GenerateKey produces a fresh ML-DSA-65 keypair.
func GenerateKey() (PublicKey, PrivateKey, error) {
	pk, sk, err := scheme.GenerateKey()
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("pq: generate key: %w", err)
	}
	return PublicKey{inner: pk}, PrivateKey{inner: sk}, nil
}

// DeriveKey deterministically derives a keypair from a 32-byte seed (used
// in tests and in hardcoded-node fixture generation, never in production
// key material).
func DeriveKey(seed [32]byte) (PublicKey, PrivateKey) {
	// ML-DSA-65 key derivation takes a fixed-size seed; expand/truncate
	// deterministically via a stretch so callers can hand in any 32 bytes.
	stretched := make([]byte, scheme.SeedSize())
	for i := range stretched {
		stretched[i] = seed[i%len(seed)]
	}
	pk, sk := scheme.DeriveKey(stretched)
	return PublicKey{inner: pk}, PrivateKey{inner: sk}
}

// Sign signs msg with sk.
func Sign(sk PrivateKey, msg []byte) Signature {
	return Signature(scheme.Sign(sk.inner, msg, nil))
}

// Verify checks sig against msg and pk. Per spec.md §4.1, a verify
// returning false is fatal for the artifact but must never panic on
// malformed input.
func Verify(pk PublicKey, msg []byte, sig Signature) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return scheme.Verify(pk.inner, msg, sig, nil)
}

// MarshalBinary / PublicKeyFromBytes round-trip a public key for wire and
// storage encoding.
func (pk PublicKey) MarshalBinary() ([]byte, error) {
	if pk.inner == nil {
		return nil, fmt.Errorf("pq: nil public key")
	}
	return pk.inner.MarshalBinary()
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pk, err := scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("pq: unmarshal public key: %w", err)
	}
	return PublicKey{inner: pk}, nil
}

// MarshalBinary exposes the raw secret key bytes. Used for VRF beta
// derivation and by the CLI's keygen command, which writes them to the
// data directory's node.sk file; never placed on the wire or in logs.
func (sk PrivateKey) MarshalBinary() ([]byte, error) {
	if sk.inner == nil {
		return nil, fmt.Errorf("pq: nil private key")
	}
	return sk.inner.MarshalBinary()
}

// PrivateKeyFromBytes is the symmetric counterpart to PublicKeyFromBytes,
// for CLI commands (keygen/sign) that round-trip a secret key through the
// filesystem.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	sk, err := scheme.UnmarshalBinaryPrivateKey(b)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("pq: unmarshal private key: %w", err)
	}
	return PrivateKey{inner: sk}, nil
}

func (pk PublicKey) Equal(other PublicKey) bool {
	if pk.inner == nil || other.inner == nil {
		return pk.inner == nil && other.inner == nil
	}
	a, _ := pk.inner.MarshalBinary()
	b, _ := other.inner.MarshalBinary()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// randReader holds crypto/rand's CSPRNG reader. It is unexported, and
// nothing in this module reads it.
var randReader = rand.Reader
