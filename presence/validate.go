package presence

import (
	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/crypto/vdf"
	"github.com/montana-acp/core/crypto/vrf"
	"github.com/montana-acp/core/lottery"
	"github.com/montana-acp/core/merkle"
	"github.com/montana-acp/core/types"
)

// UTXOView is the read-only lookup validate_slice needs for step 7 (spec.md
// §4.2): does a referenced output exist and remain unspent at the parent
// tip. storage.UTXOTx satisfies this interface directly.
type UTXOView interface {
	Exists(op types.OutPoint) bool
}

// DuplicateChecker reports whether a presence's (pubkey, τ₂-index) key
// has already been included elsewhere in the canonical chain within the
// current window (spec.md §3.3's non-duplicate invariant spans more than
// just the slice under validation).
type DuplicateChecker func(key types.PresenceKey) bool

// Validate runs the 8-step validate_slice pipeline of spec.md §4.2 in
// order, returning a tagged *acperr.Error on the first failing step so
// callers (the peer manager) can adjust reputation appropriately.
func Validate(
	s *types.Slice,
	parent *types.Header,
	now types.WallClock,
	vdfCheckT uint64,
	candidatePool []lottery.Candidate,
	isDuplicate DuplicateChecker,
	utxo UTXOView,
) error {
	// (1) parent exists.
	if parent == nil {
		return acperr.New(acperr.Consensus, "UnknownParent", nil)
	}
	parentHash := parent.Hash()
	if s.ParentHash != parentHash {
		return acperr.New(acperr.Consensus, "ParentHashMismatch", nil)
	}

	// (2) timestamp within [parent.ts, now+5s].
	if s.Timestamp < parent.Timestamp {
		return acperr.New(acperr.Consensus, "TimestampBeforeParent", nil)
	}
	if uint64(s.Timestamp) > uint64(now)+config.SliceAcceptDriftSeconds {
		return acperr.New(acperr.Consensus, "TimestampTooFarAhead", nil)
	}

	// (3) VDF verify.
	vdfInput := vdf.Input(parentHash, s.Height)
	proof := vdf.Proof{Checkpoints: s.VDFProofCheckpoints}
	if !vdf.Verify(vdfInput[:], s.VDFOutput, proof, vdfCheckT) {
		return acperr.New(acperr.Crypto, "VDFVerifyFailed", nil)
	}

	// (4) VRF verify + lottery threshold check.
	seed := lottery.Seed(parentHash, s.Tau2Index)
	pkBytes, err := s.ProducerPubKey.MarshalBinary()
	if err != nil {
		return acperr.New(acperr.Crypto, "ProducerKeyUnmarshalable", err)
	}
	if !vrf.Verify(s.ProducerPubKey, seed[:], s.VRFBeta, vrf.Proof(s.VRFProof)) {
		return acperr.New(acperr.Crypto, "VRFVerifyFailed", nil)
	}
	if !isLotteryWinner(seed, s.Tau2Index, pkBytes, candidatePool) {
		return acperr.New(acperr.Consensus, "NotLotteryWinner", nil)
	}

	// (5) presence-root & tx-root match.
	leaves := make([]merkle.PresenceLeaf, len(s.Presences))
	for i, p := range s.Presences {
		leaves[i] = p
	}
	if merkle.PresenceRoot(leaves) != s.PresenceRoot {
		return acperr.New(acperr.Consensus, "PresenceRootMismatch", nil)
	}
	txLeaves := make([][]byte, len(s.Transactions))
	for i, tx := range s.Transactions {
		h := tx.Hash()
		txLeaves[i] = h[:]
	}
	if merkle.TxRoot(txLeaves) != s.TxRoot {
		return acperr.New(acperr.Consensus, "TxRootMismatch", nil)
	}

	// (6) each presence valid, within window, non-duplicate, producer not
	// in cooldown.
	for _, p := range s.Presences {
		if !VerifyPresence(p) {
			return acperr.New(acperr.Crypto, "PresenceSignatureInvalid", nil)
		}
		if p.Tau2Index != s.Tau2Index {
			return acperr.New(acperr.Consensus, "PresenceOutsideWindow", nil)
		}
		if p.CooldownUntil > s.Tau2Index {
			return acperr.New(acperr.Consensus, "PresenceProducerInCooldown", nil)
		}
		key, err := p.Key()
		if err != nil {
			return acperr.New(acperr.Crypto, "PresenceKeyDerivation", err)
		}
		if isDuplicate != nil && isDuplicate(key) {
			return acperr.New(acperr.Consensus, "DuplicatePresence", nil)
		}
	}

	// (7) each tx valid under UTXO set at parent.
	if utxo != nil {
		for _, tx := range s.Transactions {
			for _, in := range tx.Inputs {
				if !utxo.Exists(in.PrevOut) {
					return acperr.New(acperr.Consensus, "UnknownOrSpentUTXO", nil)
				}
			}
		}
	}

	// (8) signature valid.
	sliceHash := s.Header().Hash()
	if !pq.Verify(s.ProducerPubKey, sliceHash[:], s.ProducerSignature) {
		return acperr.New(acperr.Crypto, "SliceSignatureInvalid", nil)
	}

	return nil
}

// isLotteryWinner reports whether producerPubKeyBytes matches any of the
// ten ordered lottery slots for (seed, tau2Index) — the primary slot or
// one of the nine fallbacks, covering the LOST-timeout handoff of
// spec.md §4.2's producer state machine.
func isLotteryWinner(seed hash.Digest, tau2Index types.Tau2Index, producerPubKeyBytes []byte, pool []lottery.Candidate) bool {
	slots := lottery.Slots(seed, pool, tau2Index)
	for _, slot := range slots {
		if !slot.Found {
			continue
		}
		for _, c := range pool {
			if c.NodeID == slot.WinnerNodeID && string(c.PubKeyBytes) == string(producerPubKeyBytes) {
				return true
			}
		}
	}
	return false
}
