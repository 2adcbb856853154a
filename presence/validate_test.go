package presence

import (
	"testing"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/lottery"
	"github.com/montana-acp/core/merkle"
	"github.com/montana-acp/core/types"
)

// alwaysExistsUTXO treats every outpoint as present, for tests that don't
// exercise the UTXO step directly.
type alwaysExistsUTXO struct{}

func (alwaysExistsUTXO) Exists(types.OutPoint) bool { return true }

// neverExistsUTXO treats every outpoint as unknown/spent.
type neverExistsUTXO struct{}

func (neverExistsUTXO) Exists(types.OutPoint) bool { return false }

func neverDuplicate(types.PresenceKey) bool { return false }

func validFixture(t *testing.T) (*types.Slice, *types.Header, []lottery.Candidate, uint64) {
	t.Helper()
	parent, _ := fixtureParent(t)
	pool, _, _ := fixturePoolWithProducer(t)

	pk, sk := mustGenerateKey(t)
	pool[0].PubKeyBytes, _ = pk.MarshalBinary()

	const vdfCheckT = 2
	tau2Index := parent.Tau2Index + 1

	won := -1
	seed := lottery.Seed(parent.Hash(), tau2Index)
	slots := lottery.Slots(seed, pool, tau2Index)
	pkBytes, _ := pk.MarshalBinary()
	for i, slot := range slots {
		if !slot.Found {
			continue
		}
		for _, c := range pool {
			if c.NodeID == slot.WinnerNodeID && string(c.PubKeyBytes) == string(pkBytes) {
				won = i
			}
		}
	}
	if won == -1 {
		t.Fatalf("fixture setup: expected producer to win at least one lottery slot")
	}

	presPK, presSK := mustGenerateKey(t)
	prev := hash.Sum([]byte("prev"))
	p := Emit(presSK, presPK, types.FullNodePresence, tau2Index, 0, prev, 1700000100, 0)

	s, err := Assemble(parent, tau2Index, sk, pk, []*types.PresenceProof{p}, nil, 500, vdfCheckT, 1700000100)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return s, &parent, pool, vdfCheckT
}

func TestValidateAcceptsWellFormedSlice(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	if err != nil {
		t.Fatalf("expected a well-formed slice to validate, got %v", err)
	}
}

func TestValidateRejectsUnknownParent(t *testing.T) {
	s, _, pool, vdfCheckT := validFixture(t)
	err := Validate(s, nil, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "UnknownParent")
}

func TestValidateRejectsParentHashMismatch(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	wrongParent := *parent
	wrongParent.Height = parent.Height + 100 // changes Hash()
	err := Validate(s, &wrongParent, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "ParentHashMismatch")
}

func TestValidateRejectsTimestampTooFarAhead(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	err := Validate(s, parent, 1, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "TimestampTooFarAhead")
}

func TestValidateRejectsBadVDF(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	s.VDFOutput[0] ^= 0xFF
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "VDFVerifyFailed")
}

func TestValidateRejectsNonWinner(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	// Shrink the candidate pool to exclude the actual producer entirely.
	otherPK, _ := mustGenerateKey(t)
	otherBytes, _ := otherPK.MarshalBinary()
	narrowPool := []lottery.Candidate{
		{NodeID: idOf(99), PubKeyBytes: otherBytes, Tier: lottery.TierFullNode, Weight: 1.0},
	}
	err := Validate(s, parent, 1700000105, vdfCheckT, narrowPool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "NotLotteryWinner")
}

func TestValidateRejectsPresenceRootMismatch(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	extraPresPK, extraPresSK := mustGenerateKey(t)
	extra := Emit(extraPresSK, extraPresPK, types.FullNodePresence, s.Tau2Index, 1, hash.Sum([]byte("other")), s.Timestamp, 0)
	s.Presences = append(s.Presences, extra)
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "PresenceRootMismatch")
}

func TestValidateRejectsDuplicatePresence(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	isDup := func(types.PresenceKey) bool { return true }
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, isDup, alwaysExistsUTXO{})
	assertErrTag(t, err, "DuplicatePresence")
}

func TestValidateRejectsUnknownUTXO(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	s.Transactions = []*types.Tx{{
		Inputs:  []types.TxInput{{PrevOut: types.OutPoint{TxIndex: 0, OutIndex: 0}}},
		Outputs: []types.TxOutput{{Amount: 1, OwnerScript: []byte("x")}},
	}}
	// Recompute the tx root so step 5 passes and step 7 is actually reached.
	txLeaves := [][]byte{}
	for _, tx := range s.Transactions {
		h := tx.Hash()
		txLeaves = append(txLeaves, h[:])
	}
	s.TxRoot = merkle.TxRoot(txLeaves)
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, neverDuplicate, neverExistsUTXO{})
	assertErrTag(t, err, "UnknownOrSpentUTXO")
}

func TestValidateRejectsBadSliceSignature(t *testing.T) {
	s, parent, pool, vdfCheckT := validFixture(t)
	s.ProducerSignature[0] ^= 0xFF
	err := Validate(s, parent, 1700000105, vdfCheckT, pool, neverDuplicate, alwaysExistsUTXO{})
	assertErrTag(t, err, "SliceSignatureInvalid")
}

func assertErrTag(t *testing.T, err error, wantTag string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error tagged %q, got nil", wantTag)
	}
	ae, ok := err.(*acperr.Error)
	if !ok {
		t.Fatalf("expected *acperr.Error, got %T (%v)", err, err)
	}
	if ae.Code != wantTag {
		t.Fatalf("expected code %q, got %q (%v)", wantTag, ae.Code, err)
	}
}
