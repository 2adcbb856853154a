// Package storage is the authenticated persistence layer of spec.md §6.3
// (C3): slices, headers, utxo, peers, chain_meta as fixed logical tables.
// Grounded on 2tbmz9y2xt-lang-rubin-protocol's clients/go/node/store/db.go
// (bbolt-backed, one bucket per logical table, fsync-on-write). Storage
// exclusively owns persisted slices; every other component holds only
// read-only snapshot views (spec.md §3.4's ownership rule).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/pq"
	"github.com/montana-acp/core/types"
)

var (
	bucketSlices    = []byte("slices_by_hash")
	bucketHeaders   = []byte("headers_by_height")
	bucketUtxo      = []byte("utxo_by_outpoint")
	bucketPeers     = []byte("peers")
	bucketChainMeta = []byte("chain_meta")
)

const schemaVersion = 1

// ChainMeta is the small fixed record described in spec.md §6.3.
type ChainMeta struct {
	SchemaVersion        int
	TipHash              hash.Digest
	TipHeight            uint64
	LastFinalHeight       uint64
	LastFinalHash         hash.Digest
	LastTau3CheckpointHeight uint64
	HalvingEpoch         uint64
}

// Store is the bbolt-backed persistence layer. All writes go through a
// single *bolt.DB; bbolt itself serializes writers, matching spec.md
// §5's "single-writer, multi-reader via snapshot views" contract — reads
// use bbolt's MVCC read-only transactions, which never block a writer.
type Store struct {
	dataDir string
	db      *bolt.DB
}

// Open opens (and if absent, initializes) the on-disk store at dataDir.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("storage: data dir required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	path := filepath.Join(dataDir, "montana.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt: %w", err)
	}
	s := &Store{dataDir: dataDir, db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSlices, bucketHeaders, bucketUtxo, bucketPeers, bucketChainMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// heightKey encodes height big-endian so bbolt's byte-ordered cursor walks
// headers in height order.
func heightKey(height uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(height >> (56 - 8*i))
	}
	return b
}

// sliceRecord is the schema-versioned wire shape persisted per slice; kept
// distinct from types.Slice so storage's on-disk layout can evolve behind
// a forward migration (spec.md §9's "schema-versioned storage format").
// It carries every field of types.Slice — including the VDF checkpoint
// proof, the VRF proof, and the full Presences/Transactions bodies — so
// GetSlice round-trips a canonical slice exactly, matching spec.md §8's
// "decode(encode(S)) = S" law and feeding the GetSlices peer-serving path
// (syncengine.ChunkGetSlices) real slice bodies rather than headers only.
type sliceRecord struct {
	SchemaVersion       int
	ParentHash          hash.Digest
	Height              uint64
	Tau2Index           uint64
	ProducerPK          []byte
	ProducerSig         []byte
	VDFOutput           hash.Digest
	VDFProofCheckpoints []hash.Digest
	VRFBeta             hash.Digest
	VRFProof            []byte
	PresenceRoot        hash.Digest
	TxRoot              hash.Digest
	SubnetRepRoot       hash.Digest
	WeightHi            uint64
	WeightLo            uint64
	Timestamp           uint64
	Presences           []presenceRecord
	Transactions        []txRecord
}

type presenceRecord struct {
	Kind          uint8
	ProducerPK    []byte
	Tau2Index     uint64
	Tau1Bitmap    uint16
	PrevSliceHash hash.Digest
	Timestamp     uint64
	Signature     []byte
	CooldownUntil uint64
}

type txInputRecord struct {
	PrevOut   types.OutPoint
	Signature []byte
}

type txRecord struct {
	Inputs  []txInputRecord
	Outputs []types.TxOutput
	Fee     uint64
	Payload []byte
}

func encodePresenceRecord(p *types.PresenceProof) (presenceRecord, error) {
	pkBytes, err := p.ProducerPubKey.MarshalBinary()
	if err != nil {
		return presenceRecord{}, fmt.Errorf("storage: marshal presence producer key: %w", err)
	}
	return presenceRecord{
		Kind:          uint8(p.Kind),
		ProducerPK:    pkBytes,
		Tau2Index:     uint64(p.Tau2Index),
		Tau1Bitmap:    p.Tau1Bitmap,
		PrevSliceHash: p.PrevSliceHash,
		Timestamp:     uint64(p.Timestamp),
		Signature:     p.Signature,
		CooldownUntil: uint64(p.CooldownUntil),
	}, nil
}

func decodePresenceRecord(r presenceRecord) (*types.PresenceProof, error) {
	pk, err := pq.PublicKeyFromBytes(r.ProducerPK)
	if err != nil {
		return nil, fmt.Errorf("storage: unmarshal presence producer key: %w", err)
	}
	return &types.PresenceProof{
		Kind:           types.PresenceKind(r.Kind),
		ProducerPubKey: pk,
		Tau2Index:      types.Tau2Index(r.Tau2Index),
		Tau1Bitmap:     r.Tau1Bitmap,
		PrevSliceHash:  r.PrevSliceHash,
		Timestamp:      types.WallClock(r.Timestamp),
		Signature:      r.Signature,
		CooldownUntil:  types.Tau2Index(r.CooldownUntil),
	}, nil
}

func encodeTxRecord(tx *types.Tx) txRecord {
	inputs := make([]txInputRecord, len(tx.Inputs))
	for i, in := range tx.Inputs {
		inputs[i] = txInputRecord{PrevOut: in.PrevOut, Signature: in.Signature}
	}
	return txRecord{
		Inputs:  inputs,
		Outputs: tx.Outputs,
		Fee:     tx.Fee,
		Payload: tx.Payload,
	}
}

func decodeTxRecord(r txRecord) *types.Tx {
	inputs := make([]types.TxInput, len(r.Inputs))
	for i, in := range r.Inputs {
		inputs[i] = types.TxInput{PrevOut: in.PrevOut, Signature: in.Signature}
	}
	return &types.Tx{
		Inputs:  inputs,
		Outputs: r.Outputs,
		Fee:     r.Fee,
		Payload: r.Payload,
	}
}

func encodeSliceRecord(s *types.Slice) ([]byte, error) {
	pkBytes, err := s.ProducerPubKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("storage: marshal producer key: %w", err)
	}

	presences := make([]presenceRecord, len(s.Presences))
	for i, p := range s.Presences {
		pr, err := encodePresenceRecord(p)
		if err != nil {
			return nil, err
		}
		presences[i] = pr
	}
	txs := make([]txRecord, len(s.Transactions))
	for i, tx := range s.Transactions {
		txs[i] = encodeTxRecord(tx)
	}

	rec := sliceRecord{
		SchemaVersion:       schemaVersion,
		ParentHash:          s.ParentHash,
		Height:              s.Height,
		Tau2Index:           uint64(s.Tau2Index),
		ProducerPK:          pkBytes,
		ProducerSig:         s.ProducerSignature,
		VDFOutput:           s.VDFOutput,
		VDFProofCheckpoints: s.VDFProofCheckpoints,
		VRFBeta:             s.VRFBeta,
		VRFProof:            s.VRFProof,
		PresenceRoot:        s.PresenceRoot,
		TxRoot:              s.TxRoot,
		SubnetRepRoot:       s.SubnetReputationRoot,
		WeightHi:            s.CumulativeWeight.Hi,
		WeightLo:            s.CumulativeWeight.Lo,
		Timestamp:           uint64(s.Timestamp),
		Presences:           presences,
		Transactions:        txs,
	}
	return json.Marshal(rec)
}

func decodeSliceRecord(data []byte) (*types.Slice, error) {
	var rec sliceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode slice record: %w", err)
	}
	pk, err := pq.PublicKeyFromBytes(rec.ProducerPK)
	if err != nil {
		return nil, fmt.Errorf("storage: unmarshal producer key: %w", err)
	}

	presences := make([]*types.PresenceProof, len(rec.Presences))
	for i, pr := range rec.Presences {
		p, err := decodePresenceRecord(pr)
		if err != nil {
			return nil, err
		}
		presences[i] = p
	}
	txs := make([]*types.Tx, len(rec.Transactions))
	for i, tr := range rec.Transactions {
		txs[i] = decodeTxRecord(tr)
	}

	return &types.Slice{
		ParentHash:           rec.ParentHash,
		Height:               rec.Height,
		Tau2Index:            types.Tau2Index(rec.Tau2Index),
		ProducerPubKey:       pk,
		ProducerSignature:    rec.ProducerSig,
		VDFOutput:            rec.VDFOutput,
		VDFProofCheckpoints:  rec.VDFProofCheckpoints,
		VRFBeta:              rec.VRFBeta,
		VRFProof:             rec.VRFProof,
		PresenceRoot:         rec.PresenceRoot,
		TxRoot:               rec.TxRoot,
		SubnetReputationRoot: rec.SubnetRepRoot,
		CumulativeWeight:     types.Weight128{Hi: rec.WeightHi, Lo: rec.WeightLo},
		Timestamp:            types.WallClock(rec.Timestamp),
		Presences:            presences,
		Transactions:         txs,
	}, nil
}

// PutSlice persists a validated slice keyed by its hash, fsyncing before
// returning (spec.md §5's "slices are written atomically with fsync after
// validation; a slice is never visible to fork-choice until persisted").
// Applying the same slice twice is a no-op, matching the idempotence law
// in spec.md §8.
func (s *Store) PutSlice(sliceHash hash.Digest, slice *types.Slice) error {
	data, err := encodeSliceRecord(slice)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSlices)
		if existing := b.Get(sliceHash[:]); existing != nil {
			return nil // idempotent
		}
		if err := b.Put(sliceHash[:], data); err != nil {
			return err
		}
		hdr := tx.Bucket(bucketHeaders)
		return hdr.Put(heightKey(slice.Height), sliceHash[:])
	})
}

// GetSlice returns the full persisted slice (header, presences, and
// transactions) for sliceHash, or nil/ok=false if it was never stored.
// Feeds the GetSlices peer-serving path (syncengine.ChunkGetSlices) and
// any local re-validation that needs a previously-accepted slice's body,
// not just its header.
func (s *Store) GetSlice(sliceHash hash.Digest) (*types.Slice, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSlices).Get(sliceHash[:])
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	slice, err := decodeSliceRecord(data)
	if err != nil {
		return nil, false, err
	}
	return slice, true, nil
}

// GetSliceHashAtHeight returns the canonical slice hash recorded for
// height, or ok=false if none is persisted.
func (s *Store) GetSliceHashAtHeight(height uint64) (hash.Digest, bool, error) {
	var out hash.Digest
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(heightKey(height))
		if v == nil {
			return nil
		}
		d, ok := hash.FromBytes(v)
		if !ok {
			return fmt.Errorf("storage: corrupt header index at height %d", height)
		}
		out, found = d, true
		return nil
	})
	return out, found, err
}

// HasSlice reports whether sliceHash is already persisted (used by the
// idempotence check before re-validating a re-broadcast slice).
func (s *Store) HasSlice(sliceHash hash.Digest) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSlices).Get(sliceHash[:]) != nil
		return nil
	})
	return found, err
}

// PutChainMeta persists the tip/checkpoint bookkeeping record.
func (s *Store) PutChainMeta(meta ChainMeta) error {
	meta.SchemaVersion = schemaVersion
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChainMeta).Put([]byte("meta"), data)
	})
}

// ChainMetaSnapshot returns the persisted chain metadata, or the zero
// value if the store has never been written (cold start).
func (s *Store) ChainMetaSnapshot() (ChainMeta, error) {
	var meta ChainMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChainMeta).Get([]byte("meta"))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &meta)
	})
	return meta, err
}

// WithUTXOTx runs fn in one write transaction: UTXOTx.Spend marks a UTXO
// spent by deleting its entry and UTXOTx.Create adds one, so
// multi-output transactions apply atomically.
func (s *Store) WithUTXOTx(fn func(u *UTXOTx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&UTXOTx{b: tx.Bucket(bucketUtxo)})
	})
}

// UTXOTx scopes UTXO mutations to a single bbolt write transaction.
type UTXOTx struct {
	b *bolt.Bucket
}

func outpointKey(op types.OutPoint) []byte {
	k := make([]byte, 0, hash.Size+8)
	k = append(k, op.SliceHash[:]...)
	k = appendU32(k, op.TxIndex)
	k = appendU32(k, op.OutIndex)
	return k
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (u *UTXOTx) Create(op types.OutPoint, out types.TxOutput, createdHeight uint64) error {
	rec := struct {
		Amount        uint64
		OwnerScript   []byte
		CreatedHeight uint64
	}{out.Amount, out.OwnerScript, createdHeight}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return u.b.Put(outpointKey(op), data)
}

// Spend removes the UTXO, returning ErrUnknownUTXO if it does not exist,
// so a second Spend of the same outpoint fails.
func (u *UTXOTx) Spend(op types.OutPoint) error {
	k := outpointKey(op)
	if u.b.Get(k) == nil {
		return ErrUnknownUTXO
	}
	return u.b.Delete(k)
}

func (u *UTXOTx) Exists(op types.OutPoint) bool {
	return u.b.Get(outpointKey(op)) != nil
}

// ErrUnknownUTXO is returned when spending an outpoint that either never
// existed or was already spent.
var ErrUnknownUTXO = fmt.Errorf("storage: unknown or already-spent utxo")

// banKeyPrefix distinguishes an operator-managed persisted ban entry from
// any other record the peers bucket may later hold (e.g. addrmgr
// snapshots), since spec.md §6.4's `ban`/`unban` CLI commands manage a
// durable denylist independent of a running node's in-memory
// RollingBloomFilter (network/peermgr.RollingBloomFilter) — the CLI can
// administer bans while the node isn't running. The node command reads
// this list at startup only to report its size; it is not loaded into
// that filter.
const banKeyPrefix = "ban:"

// PutBannedAddress persists addr as administratively banned.
func (s *Store) PutBannedAddress(addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(banKeyPrefix+addr), []byte{1})
	})
}

// DeleteBannedAddress removes addr from the persisted ban list, a no-op
// if it was never banned.
func (s *Store) DeleteBannedAddress(addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(banKeyPrefix + addr))
	})
}

// IsBannedAddress reports whether addr is on the persisted ban list.
func (s *Store) IsBannedAddress(addr string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPeers).Get([]byte(banKeyPrefix+addr)) != nil
		return nil
	})
	return found, err
}

// BannedAddresses returns every address currently on the persisted ban
// list.
func (s *Store) BannedAddresses() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPeers).Cursor()
		prefix := []byte(banKeyPrefix)
		for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == banKeyPrefix; k, _ = c.Next() {
			out = append(out, string(k[len(prefix):]))
		}
		return nil
	})
	return out, err
}
