// Package types defines the core entities of spec.md §3: Slice,
// PresenceProof, Tx/Utxo, NodeWeight, PeerRecord, SubnetRecord and
// CooldownState. Grounded on the teacher's core/types package layout
// (core/types/) and validators.go's use of github.com/luxfi/ids for node
// and object identifiers.
package types

import (
	"github.com/luxfi/ids"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/pq"
)

// Tau2Index is a τ₂ (10 minute slice interval) coordinate.
type Tau2Index uint64

// WallClock is seconds since the Unix epoch, per spec.md §3.1.
type WallClock uint64

// NodeIDFromPublicKey derives a stable 20-byte ids.NodeID from an
// ML-DSA-65 public key by truncating its SHA3-256 digest, mirroring the
// teacher's node-identity-from-certificate derivation.
func NodeIDFromPublicKey(pk pq.PublicKey) (ids.NodeID, error) {
	raw, err := pk.MarshalBinary()
	if err != nil {
		return ids.NodeID{}, err
	}
	digest := hash.Sum(raw)
	var arr [20]byte
	copy(arr[:], digest[:20])
	return ids.NodeID(arr), nil
}

// PresenceKind distinguishes the two presence variants of spec.md §3.2.
type PresenceKind uint8

const (
	FullNodePresence PresenceKind = iota
	VerifiedUserPresence
)

// PresenceProof is the atomic unit of "I existed at coordinate X".
type PresenceProof struct {
	Kind            PresenceKind
	ProducerPubKey  pq.PublicKey
	Tau2Index       Tau2Index
	Tau1Bitmap      uint16 // which of the 10 τ₁ slots within the τ₂ window
	PrevSliceHash   hash.Digest
	Timestamp       WallClock
	Signature       pq.Signature
	CooldownUntil   Tau2Index
}

// SigningMessage is the exact byte sequence a presence's signature
// covers: (τ₂-index, τ₁-bitmap-bit, prev-slice-hash, now), per spec.md
// §4.2's emit_presence operation.
func (p *PresenceProof) SigningMessage() []byte {
	msg := make([]byte, 0, 8+2+hash.Size+8)
	msg = appendU64(msg, uint64(p.Tau2Index))
	msg = appendU16(msg, p.Tau1Bitmap)
	msg = append(msg, p.PrevSliceHash[:]...)
	msg = appendU64(msg, uint64(p.Timestamp))
	return msg
}

// Key identifies a presence's (pubkey, τ₂-index) coordinate, used to
// detect duplicates within a slice window per the invariant in spec.md
// §3.3.
type PresenceKey struct {
	PubKey    string // MarshalBinary-encoded pq.PublicKey, comparable
	Tau2Index Tau2Index
}

// LeafBytes and SortKey implement merkle.PresenceLeaf.
func (p *PresenceProof) LeafBytes() []byte {
	pkBytes, _ := p.ProducerPubKey.MarshalBinary()
	b := append([]byte{}, pkBytes...)
	b = appendU64(b, uint64(p.Tau2Index))
	b = appendU16(b, p.Tau1Bitmap)
	b = append(b, p.PrevSliceHash[:]...)
	b = appendU64(b, uint64(p.Timestamp))
	b = append(b, p.Signature...)
	return b
}

func (p *PresenceProof) SortKey() (string, uint64) {
	pkBytes, _ := p.ProducerPubKey.MarshalBinary()
	return string(pkBytes), uint64(p.Tau2Index)
}

func (p *PresenceProof) Key() (PresenceKey, error) {
	raw, err := p.ProducerPubKey.MarshalBinary()
	if err != nil {
		return PresenceKey{}, err
	}
	return PresenceKey{PubKey: string(raw), Tau2Index: p.Tau2Index}, nil
}

// Tx is deliberately opaque per spec.md §3.2: a (inputs, outputs,
// signature, fee) tuple. Inputs reference prior outputs by
// (slice-hash, tx-index, output-index).
type OutPoint struct {
	SliceHash hash.Digest
	TxIndex   uint32
	OutIndex  uint32
}

type TxInput struct {
	PrevOut   OutPoint
	Signature []byte
}

type TxOutput struct {
	Amount      uint64
	OwnerScript []byte
}

type Tx struct {
	Inputs  []TxInput
	Outputs []TxOutput
	Fee     uint64
	Payload []byte // opaque application data; never interpreted by the core
}

// Hash returns the canonical transaction hash used as a UTXO's SliceHash
// component once the tx is included in a slice.
func (tx *Tx) Hash() hash.Digest {
	h := hash.Sum
	parts := make([][]byte, 0, len(tx.Inputs)*2+len(tx.Outputs)*2+2)
	for _, in := range tx.Inputs {
		parts = append(parts, in.PrevOut.SliceHash[:], in.Signature)
	}
	for _, out := range tx.Outputs {
		parts = append(parts, out.OwnerScript)
	}
	parts = append(parts, tx.Payload)
	return h(parts...)
}

// Slice is the block analog of spec.md §3.2.
type Slice struct {
	ParentHash             hash.Digest
	Height                 uint64
	Tau2Index              Tau2Index
	ProducerPubKey         pq.PublicKey
	ProducerSignature      pq.Signature
	VDFOutput              hash.Digest
	VDFProofCheckpoints    []hash.Digest
	VRFBeta                hash.Digest
	VRFProof               []byte
	PresenceRoot           hash.Digest
	TxRoot                 hash.Digest
	SubnetReputationRoot   hash.Digest
	CumulativeWeight       Weight128
	Timestamp              WallClock
	Presences              []*PresenceProof
	Transactions           []*Tx
}

// Weight128 is a saturating unsigned 128-bit accumulator (spec.md §3.2's
// cumulative-weight field), represented as high/low uint64 halves since Go
// has no native uint128.
type Weight128 struct {
	Hi, Lo uint64
}

// Add returns w+delta, saturating instead of overflowing.
func (w Weight128) Add(delta uint64) Weight128 {
	lo := w.Lo + delta
	hi := w.Hi
	if lo < w.Lo { // carry
		hi++
	}
	if hi < w.Hi { // overflowed 128 bits entirely
		return Weight128{Hi: ^uint64(0), Lo: ^uint64(0)}
	}
	return Weight128{Hi: hi, Lo: lo}
}

// Cmp compares two Weight128 values: -1, 0, 1.
func (w Weight128) Cmp(o Weight128) int {
	switch {
	case w.Hi != o.Hi:
		if w.Hi < o.Hi {
			return -1
		}
		return 1
	case w.Lo != o.Lo:
		if w.Lo < o.Lo {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// GreaterOrEqualScaled reports whether w >= o * numerator/denominator,
// used by fork choice's reorg threshold (spec.md §4.4: "6× current slice
// weight"). Computed in big.Int to avoid 128-bit overflow.
func (w Weight128) GreaterOrEqualScaled(o Weight128, numerator, denominator uint64) bool {
	lhs := w.big()
	rhs := o.big()
	rhs.Mul(rhs, bigFromUint64(numerator))
	rhs.Div(rhs, bigFromUint64(denominator))
	return lhs.Cmp(rhs) >= 0
}

// Header returns the subset of Slice fields covered by the header-only
// sync path (spec.md §4.9's headers-first download).
type Header struct {
	ParentHash           hash.Digest
	Height               uint64
	Tau2Index            Tau2Index
	ProducerPubKey       pq.PublicKey
	ProducerSignature    pq.Signature
	VDFOutput            hash.Digest
	VRFBeta              hash.Digest
	PresenceRoot         hash.Digest
	TxRoot               hash.Digest
	SubnetReputationRoot hash.Digest
	CumulativeWeight     Weight128
	Timestamp            WallClock
}

func (s *Slice) Header() Header {
	return Header{
		ParentHash:           s.ParentHash,
		Height:               s.Height,
		Tau2Index:            s.Tau2Index,
		ProducerPubKey:       s.ProducerPubKey,
		ProducerSignature:    s.ProducerSignature,
		VDFOutput:            s.VDFOutput,
		VRFBeta:              s.VRFBeta,
		PresenceRoot:         s.PresenceRoot,
		TxRoot:               s.TxRoot,
		SubnetReputationRoot: s.SubnetReputationRoot,
		CumulativeWeight:     s.CumulativeWeight,
		Timestamp:            s.Timestamp,
	}
}

// Hash returns the slice's canonical hash — over the header, per spec.md
// §8's "hash(encode(S.header)) is stable across hosts" round-trip law.
// ProducerSignature is deliberately excluded: it is itself computed over
// this hash (assemble_slice signs Header().Hash()), so including it would
// make the hash depend on a value that depends on the hash.
func (h Header) Hash() hash.Digest {
	pkBytes, _ := h.ProducerPubKey.MarshalBinary()
	return hash.Sum(
		h.ParentHash[:],
		u64Bytes(h.Height),
		u64Bytes(uint64(h.Tau2Index)),
		pkBytes,
		h.VDFOutput[:],
		h.VRFBeta[:],
		h.PresenceRoot[:],
		h.TxRoot[:],
		h.SubnetReputationRoot[:],
		u64Bytes(h.CumulativeWeight.Hi),
		u64Bytes(h.CumulativeWeight.Lo),
		u64Bytes(uint64(h.Timestamp)),
	)
}

// NodeWeight is the per-node running score consumed by the lottery
// (spec.md §3.2, dimensions detailed in weight package).
type NodeWeight struct {
	NodeID     ids.NodeID
	Time       float64
	Integrity  float64
	Storage    float64
	Geography  float64
	Handshake  float64
}

// Aggregate computes w = 0.50·TIME + 0.20·INTEGRITY + 0.15·STORAGE +
// 0.10·GEOGRAPHY + 0.05·HANDSHAKE per spec.md §4.6, pre-cluster-penalty.
func (nw NodeWeight) Aggregate() float64 {
	return 0.50*nw.Time + 0.20*nw.Integrity + 0.15*nw.Storage + 0.10*nw.Geography + 0.05*nw.Handshake
}

// PeerRecord is an address-manager entry (spec.md §3.2).
type PeerRecord struct {
	Address      string
	LastSeen     WallClock
	LastTried    WallClock
	Source       string
	Netgroup     string // /16 (IPv4) or /48 (IPv6) key
	Reputation   int8   // [-100, +100]
	BucketNew    int
	BucketTried  int
}

// SubnetRecord tracks per-netgroup diversity accounting (spec.md §3.2).
type SubnetRecord struct {
	Key            string
	NodeCount      int
	FirstSeen      WallClock
	Reputation     float64
	RollingActive  int
}

// CooldownState is the per-node lottery-ineligibility window (spec.md
// §3.2, computed per §4.3).
type CooldownState struct {
	NodeID      ids.NodeID
	Until       Tau2Index
	LastGapHat  float64 // exponentially-smoothed median inter-win gap, in τ₂ units
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (56 - 8*i))
	}
	return append(b, tmp[:]...)
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func u64Bytes(v uint64) []byte {
	return appendU64(nil, v)
}
