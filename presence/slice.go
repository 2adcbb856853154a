package presence

import (
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/crypto/vdf"
	"github.com/montana-acp/core/crypto/vrf"
	"github.com/montana-acp/core/lottery"
	"github.com/montana-acp/core/merkle"
	"github.com/montana-acp/core/types"
)

// Assemble builds and signs a new slice extending parent at tau2Index,
// spec.md §4.2's assemble_slice operation: gather presences + txs,
// compute roots, compute the VDF over SHA3-256(parent-hash ∥ height), and
// sign. The caller is responsible for having already confirmed the
// producer actually won the lottery for this τ₂ (see lottery.Slots /
// presence.Validate's step 4, which performs the same check on receipt).
func Assemble(
	parent types.Header,
	tau2Index types.Tau2Index,
	producerSK pq.PrivateKey,
	producerPK pq.PublicKey,
	presences []*types.PresenceProof,
	txs []*types.Tx,
	sliceWeightDelta uint64,
	vdfCheckT uint64,
	now types.WallClock,
) (*types.Slice, error) {
	parentHash := parent.Hash()
	height := parent.Height + 1

	vdfInput := vdf.Input(parentHash, height)
	vdfOutput, vdfProof := vdf.Compute(vdfInput[:], vdfCheckT)

	seed := lottery.Seed(parentHash, tau2Index)
	beta, pi := vrf.Prove(producerSK, seed[:])

	leaves := make([]merkle.PresenceLeaf, len(presences))
	for i, p := range presences {
		leaves[i] = p
	}
	presenceRoot := merkle.PresenceRoot(leaves)

	txLeaves := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		txLeaves[i] = h[:]
	}
	txRoot := merkle.TxRoot(txLeaves)

	s := &types.Slice{
		ParentHash:          parentHash,
		Height:              height,
		Tau2Index:           tau2Index,
		ProducerPubKey:      producerPK,
		VDFOutput:           vdfOutput,
		VDFProofCheckpoints: vdfProof.Checkpoints,
		VRFBeta:             beta,
		VRFProof:            []byte(pi),
		PresenceRoot:        presenceRoot,
		TxRoot:              txRoot,
		CumulativeWeight:    parent.CumulativeWeight.Add(sliceWeightDelta),
		Timestamp:           now,
		Presences:           presences,
		Transactions:        txs,
	}

	sliceHash := s.Header().Hash()
	s.ProducerSignature = pq.Sign(producerSK, sliceHash[:])
	return s, nil
}
