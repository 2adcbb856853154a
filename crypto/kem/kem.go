// Package kem implements the ML-KEM-768 contract of spec.md §4.1, used to
// fold a post-quantum shared secret into the Noise XX handshake hash
// (network/transport).
package kem

import (
	"fmt"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/schemes"
)

const schemeName = "ML-KEM-768"

var scheme = mustScheme(schemeName)

func mustScheme(name string) circlkem.Scheme {
	s := schemes.ByName(name)
	if s == nil {
		panic(fmt.Sprintf("kem: scheme %q not registered", name))
	}
	return s
}

type (
	PublicKey  struct{ inner circlkem.PublicKey }
	PrivateKey struct{ inner circlkem.PrivateKey }
)

// SharedKeySize is the fixed ML-KEM-768 shared-secret length (32 bytes).
func SharedKeySize() int { return scheme.SharedKeySize() }

// CiphertextSize is the fixed encapsulation ciphertext length.
func CiphertextSize() int { return scheme.CiphertextSize() }

// GenerateKeyPair produces a fresh ML-KEM-768 keypair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("kem: generate keypair: %w", err)
	}
	return PublicKey{inner: pk}, PrivateKey{inner: sk}, nil
}

// Encapsulate produces a ciphertext and shared secret for pk's holder.
func Encapsulate(pk PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct, ss, err := scheme.Encapsulate(pk.inner)
	if err != nil {
		return nil, nil, fmt.Errorf("kem: encapsulate: %w", err)
	}
	return ct, ss, nil
}

// Decapsulate recovers the shared secret from ciphertext using sk.
func Decapsulate(sk PrivateKey, ciphertext []byte) ([]byte, error) {
	ss, err := scheme.Decapsulate(sk.inner, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("kem: decapsulate: %w", err)
	}
	return ss, nil
}

func (pk PublicKey) MarshalBinary() ([]byte, error) {
	if pk.inner == nil {
		return nil, fmt.Errorf("kem: nil public key")
	}
	return pk.inner.MarshalBinary()
}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	pk, err := scheme.UnmarshalBinaryPublicKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("kem: unmarshal public key: %w", err)
	}
	return PublicKey{inner: pk}, nil
}
