package presence

import (
	"testing"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/types"
)

func TestEmitAndVerifyPresence(t *testing.T) {
	pk, sk := mustGenerateKey(t)
	prev := hash.Sum([]byte("prev"))
	p := Emit(sk, pk, types.FullNodePresence, 5, 2, prev, 1700000000, 0)
	if !VerifyPresence(p) {
		t.Fatalf("expected freshly emitted presence to verify")
	}
	if p.Tau1Bitmap != 1<<2 {
		t.Fatalf("expected bitmap bit 2 set, got %b", p.Tau1Bitmap)
	}

	// Tampering invalidates the signature.
	p.Timestamp++
	if VerifyPresence(p) {
		t.Fatalf("expected tampered presence to fail verification")
	}
}

func TestPoolRejectsDuplicateAndExpires(t *testing.T) {
	pk, sk := mustGenerateKey(t)
	prev := hash.Sum([]byte("prev"))
	p1 := Emit(sk, pk, types.FullNodePresence, 10, 0, prev, 1, 0)

	pool := NewPool()
	if err := pool.Add(p1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := pool.Add(p1); err == nil {
		t.Fatalf("expected duplicate (pubkey, tau2Index) to be rejected")
	}

	pool.ExpireOlderThan(13) // more than PresenceExpiryTau2 (2) behind
	if pool.Len() != 0 {
		t.Fatalf("expected expired presence to be dropped, len=%d", pool.Len())
	}
}

func TestPoolTakeRemovesMatchingWindow(t *testing.T) {
	pk, sk := mustGenerateKey(t)
	prev := hash.Sum([]byte("prev"))
	p1 := Emit(sk, pk, types.FullNodePresence, 10, 0, prev, 1, 0)

	pool := NewPool()
	_ = pool.Add(p1)

	taken := pool.Take(10)
	if len(taken) != 1 {
		t.Fatalf("expected 1 presence taken, got %d", len(taken))
	}
	if pool.Len() != 0 {
		t.Fatalf("expected pool drained after Take")
	}
}
