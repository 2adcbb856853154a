// Package addrmgr implements the peer address book of spec.md §4.5/§4.10:
// NEW and TRIED bucket tables, SipHash-2-4 keyed bucket placement, 50/50
// NEW/TRIED outbound sampling, staleness-score eviction, and a size-capped
// persistence format.
//
// Grounded on the teacher's enrichment source's peer/ban bookkeeping shape
// (rubin-protocol's clients/go/node/p2p/peer.go, banscore.go) generalized
// from per-connection ban accounting to per-address book accounting; no
// pack repo implements a Bitcoin-style addrman, so the NEW/TRIED bucket
// design itself is built from the invariants spec.md states directly
// rather than imitated from an existing Go file. SipHash-2-4 bucket keys
// use github.com/dchest/siphash, named (not grounded) per a manifest-only
// reference (other_examples/manifests/monetarium-node/go.mod) rather than
// a full example repo — the corpus offers no complete repo exercising it,
// but it is a real, minimal, stable SipHash-2-4 implementation and a
// better fit than hand-rolling a MAC primitive by hand.
package addrmgr

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dchest/siphash"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/types"
)

const (
	newBuckets      = config.AddrNewBuckets
	newSlots        = config.AddrNewSlotsPerBucket
	triedBuckets    = config.AddrTriedBuckets
	triedSlots      = config.AddrTriedSlotsPerBucket
	maxPersistBytes = config.AddrBookMaxBytes
)

// entry is one address-book record: the gossiped PeerRecord plus the
// bookkeeping addrmgr needs for staleness scoring and bucket placement.
type entry struct {
	rec          types.PeerRecord
	attempts     int
	inTried      bool
	bucketIdx    int
	bucketSlot   int
}

// Manager is the NEW/TRIED bucket address book. One Manager is shared by
// every peer connection a node makes or accepts.
type Manager struct {
	mu sync.Mutex

	key0, key1 uint64 // per-process random SipHash-2-4 key

	newTable   [newBuckets][newSlots]*entry
	triedTable [triedBuckets][triedSlots]*entry

	byAddress map[string]*entry
}

// NewManager builds an address book with a fresh random SipHash key, so
// bucket placement cannot be predicted or steered by a remote peer across
// process restarts.
func NewManager() (*Manager, error) {
	var keyBytes [16]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		return nil, fmt.Errorf("addrmgr: generating sip key: %w", err)
	}
	return &Manager{
		key0:      binary.BigEndian.Uint64(keyBytes[:8]),
		key1:      binary.BigEndian.Uint64(keyBytes[8:]),
		byAddress: make(map[string]*entry),
	}, nil
}

// newBucketIndex computes the NEW-table bucket for (source netgroup,
// address netgroup), per spec.md §4.10: SipHash-2-4 keyed by a random
// per-process key over the pair, folded into [0, newBuckets).
func (m *Manager) newBucketIndex(sourceGroup, addrGroup string) int {
	h := siphash.Hash(m.key0, m.key1, []byte(sourceGroup+"|"+addrGroup))
	return int(h % uint64(newBuckets))
}

// triedBucketIndex computes the TRIED-table bucket for an address's own
// netgroup.
func (m *Manager) triedBucketIndex(addrGroup string) int {
	h := siphash.Hash(m.key0, m.key1, []byte("tried|"+addrGroup))
	return int(h % uint64(triedBuckets))
}

func slotIndex(h uint64, slots int) int {
	return int(h % uint64(slots))
}

// AddNew inserts or refreshes a gossiped address in the NEW table. If the
// computed slot is occupied by a different, non-stale address, the
// incoming one is dropped (the existing occupant wins), mirroring
// classic addrman collision handling.
func (m *Manager) AddNew(rec types.PeerRecord, sourceGroup string, now types.WallClock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byAddress[rec.Address]; ok {
		e.rec = rec
		return
	}

	bIdx := m.newBucketIndex(sourceGroup, rec.Netgroup)
	sIdx := slotIndex(siphash.Hash(m.key0, m.key1, []byte(rec.Address)), newSlots)

	e := &entry{rec: rec, bucketIdx: bIdx, bucketSlot: sIdx}
	occupant := m.newTable[bIdx][sIdx]
	if occupant != nil && !m.isStale(occupant, now) {
		return
	}
	if occupant != nil {
		delete(m.byAddress, occupant.rec.Address)
	}
	m.newTable[bIdx][sIdx] = e
	m.byAddress[rec.Address] = e
}

// MarkGood promotes an address from NEW to TRIED after a successful
// connection/handshake, per spec.md §4.10.
func (m *Manager) MarkGood(address string, now types.WallClock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byAddress[address]
	if !ok {
		return
	}
	if !e.inTried {
		bIdx := m.triedBucketIndex(e.rec.Netgroup)
		sIdx := slotIndex(siphash.Hash(m.key0, m.key1, []byte(address)), triedSlots)
		occupant := m.triedTable[bIdx][sIdx]
		if occupant != nil && !m.isStale(occupant, now) {
			return // an existing, non-stale TRIED entry wins the collision
		}
		if occupant != nil {
			delete(m.byAddress, occupant.rec.Address)
		}
		if nb, ns, removed := m.findInNew(e); removed {
			m.newTable[nb][ns] = nil
		}
		e.inTried = true
		e.bucketIdx, e.bucketSlot = bIdx, sIdx
		m.triedTable[bIdx][sIdx] = e
	}
	e.rec.LastSeen = now
	e.rec.LastTried = now
	e.attempts = 0
}

// MarkAttemptFailed records a failed connection attempt, feeding the
// staleness score that governs future eviction.
func (m *Manager) MarkAttemptFailed(address string, now types.WallClock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byAddress[address]; ok {
		e.attempts++
		e.rec.LastTried = now
	}
}

func (m *Manager) findInNew(e *entry) (int, int, bool) {
	if e.inTried {
		return 0, 0, false
	}
	if m.newTable[e.bucketIdx][e.bucketSlot] == e {
		return e.bucketIdx, e.bucketSlot, true
	}
	return 0, 0, false
}

// stalenessScore is age-in-seconds scaled by (1 + failed attempts), so an
// address that has never been tried ages linearly while one with repeated
// failures becomes evictable far sooner, per spec.md §4.10's
// "age × untried" formulation.
func stalenessScore(e *entry, now types.WallClock) float64 {
	age := float64(0)
	if now > e.rec.LastSeen {
		age = float64(now - e.rec.LastSeen)
	}
	return age * float64(1+e.attempts)
}

// staleThresholdSeconds is the baseline beyond which an occupant yields its
// slot to a colliding insert: two weeks of untouched aging, reached
// proportionally sooner by any address with failed connection attempts.
const staleThresholdSeconds = 14 * 24 * 60 * 60

func (m *Manager) isStale(e *entry, now types.WallClock) bool {
	return stalenessScore(e, now) >= staleThresholdSeconds
}

// Select returns one candidate address for an outbound dial, sampling the
// TRIED table half the time and the NEW table the other half, per spec.md
// §4.10's 50/50 split — falling back to whichever table is non-empty if
// the other has nothing to offer.
func (m *Manager) Select(coinFlip bool) (types.PeerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tryTried := coinFlip
	if rec, ok := m.selectFrom(tryTried); ok {
		return rec, true
	}
	if rec, ok := m.selectFrom(!tryTried); ok {
		return rec, true
	}
	return types.PeerRecord{}, false
}

func (m *Manager) selectFrom(tried bool) (types.PeerRecord, bool) {
	if tried {
		for _, bucket := range m.triedTable {
			for _, e := range bucket {
				if e != nil {
					return e.rec, true
				}
			}
		}
		return types.PeerRecord{}, false
	}
	for _, bucket := range m.newTable {
		for _, e := range bucket {
			if e != nil {
				return e.rec, true
			}
		}
	}
	return types.PeerRecord{}, false
}

// Count returns the number of NEW and TRIED entries currently tracked.
func (m *Manager) Count() (newCount, triedCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byAddress {
		if e.inTried {
			triedCount++
		} else {
			newCount++
		}
	}
	return
}

// Serialize encodes every tracked address into a size-capped flat record
// list: (count uint32) then, per entry, (timestamp, lastTried, attempts,
// inTried flag, netgroup length + bytes, address length + bytes).
func (m *Manager) Serialize() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 0, 4)
	buf = appendU32(buf, uint32(len(m.byAddress)))
	for _, e := range m.byAddress {
		buf = appendU64(buf, uint64(e.rec.LastSeen))
		buf = appendU64(buf, uint64(e.rec.LastTried))
		buf = appendU32(buf, uint32(e.attempts))
		if e.inTried {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendLenPrefixed(buf, []byte(e.rec.Netgroup))
		buf = appendLenPrefixed(buf, []byte(e.rec.Address))
		if len(buf) > maxPersistBytes {
			return nil, fmt.Errorf("addrmgr: serialized address book exceeds %d bytes", maxPersistBytes)
		}
	}
	return buf, nil
}

// Load adds the entries decoded from a Serialize'd snapshot to the
// in-memory address book (entries already present are kept), re-deriving
// each entry's bucket placement under this Manager's own SipHash key.
func (m *Manager) Load(b []byte, now types.WallClock, sourceGroupForNetgroup func(netgroup string) string) error {
	if len(b) > maxPersistBytes {
		return fmt.Errorf("addrmgr: snapshot exceeds %d bytes", maxPersistBytes)
	}
	if len(b) < 4 {
		return fmt.Errorf("addrmgr: truncated snapshot")
	}
	count, off := readU32(b, 0)
	for i := uint32(0); i < count; i++ {
		if off+8+8+4+1 > len(b) {
			return fmt.Errorf("addrmgr: truncated entry")
		}
		lastSeen, o1 := readU64(b, off)
		lastTried, o2 := readU64(b, o1)
		attempts, o3 := readU32(b, o2)
		inTried := b[o3] == 1
		off = o3 + 1

		netgroup, off2, err := readLenPrefixed(b, off)
		if err != nil {
			return err
		}
		address, off3, err := readLenPrefixed(b, off2)
		if err != nil {
			return err
		}
		off = off3

		rec := types.PeerRecord{
			Address:   address,
			LastSeen:  types.WallClock(lastSeen),
			LastTried: types.WallClock(lastTried),
			Netgroup:  netgroup,
		}
		if inTried {
			m.addLoadedTried(rec, int(attempts))
		} else {
			m.AddNew(rec, sourceGroupForNetgroup(netgroup), now)
			if e, ok := m.byAddress[address]; ok {
				e.attempts = int(attempts)
			}
		}
	}
	return nil
}

func (m *Manager) addLoadedTried(rec types.PeerRecord, attempts int) {
	m.mu.Lock()
	bIdx := m.triedBucketIndex(rec.Netgroup)
	sIdx := slotIndex(siphash.Hash(m.key0, m.key1, []byte(rec.Address)), triedSlots)
	e := &entry{rec: rec, attempts: attempts, inTried: true, bucketIdx: bIdx, bucketSlot: sIdx}
	m.triedTable[bIdx][sIdx] = e
	m.byAddress[rec.Address] = e
	m.mu.Unlock()
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendLenPrefixed(b []byte, s []byte) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func readU32(b []byte, off int) (uint32, int) {
	return binary.BigEndian.Uint32(b[off : off+4]), off + 4
}

func readU64(b []byte, off int) (uint64, int) {
	return binary.BigEndian.Uint64(b[off : off+8]), off + 8
}

func readLenPrefixed(b []byte, off int) (string, int, error) {
	if off+4 > len(b) {
		return "", 0, fmt.Errorf("addrmgr: truncated length prefix")
	}
	n, off2 := readU32(b, off)
	if off2+int(n) > len(b) {
		return "", 0, fmt.Errorf("addrmgr: truncated string")
	}
	return string(b[off2 : off2+int(n)]), off2 + int(n), nil
}
