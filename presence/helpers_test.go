package presence

import (
	"testing"

	"github.com/montana-acp/core/crypto/pq"
)

func mustGenerateKey(t *testing.T) (pq.PublicKey, pq.PrivateKey) {
	t.Helper()
	pk, sk, err := pq.GenerateKey()
	if err != nil {
		t.Fatalf("pq.GenerateKey: %v", err)
	}
	return pk, sk
}
