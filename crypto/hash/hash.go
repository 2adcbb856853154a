// Package hash implements the core's single hash contract (spec.md §4.1):
// SHA3-256 everywhere a 32-byte digest is required (slice hashes, merkle
// roots, VDF input/seed derivation).
package hash

import (
	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes.
const Size = 32

// Digest is a fixed 32-byte SHA3-256 output.
type Digest [Size]byte

// Sum hashes b and concatenated extras, matching the teacher's habit of
// hashing "field ∥ field ∥ field" rather than serializing a struct first.
func Sum(parts ...[]byte) Digest {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p) //nolint:errcheck // hash.Hash.Write never errors
	}
	var d Digest
	h.Sum(d[:0])
	return d
}

// IsZero reports whether d is the all-zero digest (used for genesis'
// parent-hash sentinel).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

func (d Digest) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, Size*2)
	for i, b := range d {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// FromBytes copies b (which must be exactly Size bytes) into a Digest.
func FromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != Size {
		return d, false
	}
	copy(d[:], b)
	return d, true
}
