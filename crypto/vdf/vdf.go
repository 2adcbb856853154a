// Package vdf provides the verifiable-delay-function contract of spec.md
// §4.1: Compute is sequential in T, Verify is cheap. The VDF's group-
// theoretic construction (Wesolowski) is explicitly out of scope (spec.md
// §1); this is a reference sequential-hash-chain realization that honors
// the contract's shape — iterated SHA3-256 application T times, with a
// checkpoint digest recorded every CheckpointStride iterations. Verify
// recomputes the whole chain from input and checks each checkpoint on the
// way, so its cost is linear in T, like Compute's; it has no shortcut over
// recomputation. No third-party VDF implementation exists anywhere in
// the retrieved example pack, so this package is a deliberate, documented
// stdlib exception (see DESIGN.md).
package vdf

import (
	"fmt"

	"github.com/montana-acp/core/crypto/hash"
)

// CheckpointStride is how many sequential iterations separate two proof
// checkpoints. Verify recomputes every stride and compares each
// checkpoint as it reaches it.
const CheckpointStride = 1 << 14

// Proof is the sequence of checkpoint digests taken every CheckpointStride
// iterations, terminating at output.
type Proof struct {
	Checkpoints []hash.Digest
}

// Compute runs T sequential SHA3-256 applications over input, returning
// the final output and a proof of intermediate checkpoints.
func Compute(input []byte, t uint64) (output hash.Digest, proof Proof) {
	cur := hash.Sum(input)
	var checkpoints []hash.Digest
	for i := uint64(1); i < t; i++ {
		cur = hash.Sum(cur[:])
		if i%CheckpointStride == 0 {
			checkpoints = append(checkpoints, cur)
		}
	}
	return cur, Proof{Checkpoints: checkpoints}
}

// Verify recomputes the chain between each adjacent pair of checkpoints
// (and the final segment to output), failing fast on the first mismatch.
// It never panics on malformed input; a structurally invalid proof simply
// verifies false.
func Verify(input []byte, output hash.Digest, proof Proof, t uint64) bool {
	if t == 0 {
		return false
	}
	expectedCheckpoints := int((t - 1) / CheckpointStride)
	if len(proof.Checkpoints) != expectedCheckpoints {
		return false
	}

	cur := hash.Sum(input)
	nextCheckpoint := 0
	for i := uint64(1); i < t; i++ {
		cur = hash.Sum(cur[:])
		if i%CheckpointStride == 0 {
			if nextCheckpoint >= len(proof.Checkpoints) {
				return false
			}
			if cur != proof.Checkpoints[nextCheckpoint] {
				return false
			}
			nextCheckpoint++
		}
	}
	return cur == output
}

// Input derives the VDF input for slice S per spec.md §3.3:
// SHA3-256(parent-hash ∥ height).
func Input(parentHash hash.Digest, height uint64) hash.Digest {
	var heightBE [8]byte
	for i := 0; i < 8; i++ {
		heightBE[i] = byte(height >> (56 - 8*i))
	}
	return hash.Sum(parentHash[:], heightBE[:])
}

// ErrUnavailable is returned by callers that cannot reach a hardware VDF
// accelerator when one is configured; Compute itself never errors since
// the reference realization runs purely in software.
var ErrUnavailable = fmt.Errorf("vdf: no verifier available")
