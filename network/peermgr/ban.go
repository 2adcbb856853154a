package peermgr

import (
	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
)

// rollingBloomK is the number of independent hash rounds per inserted
// item, each derived by salting crypto/hash.Sum with a round index — the
// same SHA3-256 primitive already grounded elsewhere in this module,
// rather than importing a bloom-filter library whose exact Add/Contains
// call shape could not be confirmed against any usage in the pack (see
// DESIGN.md's discouragement-filter entry).
const rollingBloomK = 4

// rollingBloomBits sizes each generation to keep the false-positive rate
// low for config.MaxBans items at k=4 hash rounds (~10 bits/item).
const rollingBloomBits = config.MaxBans * 10

// RollingBloomFilter approximates a FIFO-evicting set of banned addresses
// without supporting true per-item deletion: two generations of bits are
// kept, inserts always go to the "current" generation, and once it has
// absorbed half of its target capacity the current generation becomes
// "previous" and a fresh, empty generation takes over. Membership checks
// both generations, so an item survives for between capacity/2 and
// capacity insertions after it was added — the same amortized-FIFO
// approximation Bitcoin Core's CRollingBloomFilter uses for its ban list,
// reimplemented here over this module's own hash primitive.
type RollingBloomFilter struct {
	gen        [2][]uint64 // bitsets, gen[cur] is active, gen[1-cur] is aging out
	cur        int
	curCount   int
	capacity   int
}

// NewRollingBloomFilter builds a filter sized for config.MaxBans entries.
func NewRollingBloomFilter() *RollingBloomFilter {
	words := (rollingBloomBits + 63) / 64
	return &RollingBloomFilter{
		gen:      [2][]uint64{make([]uint64, words), make([]uint64, words)},
		capacity: config.MaxBans,
	}
}

func (f *RollingBloomFilter) bitPositions(item []byte) [rollingBloomK]uint64 {
	var positions [rollingBloomK]uint64
	nbits := uint64(len(f.gen[0]) * 64)
	for i := 0; i < rollingBloomK; i++ {
		d := hash.Sum(item, []byte{byte(i)})
		v := uint64(0)
		for j := 0; j < 8; j++ {
			v = v<<8 | uint64(d[j])
		}
		positions[i] = v % nbits
	}
	return positions
}

func setBit(bits []uint64, pos uint64) {
	bits[pos/64] |= 1 << (pos % 64)
}

func testBit(bits []uint64, pos uint64) bool {
	return bits[pos/64]&(1<<(pos%64)) != 0
}

// Add inserts item into the current generation, rotating generations
// first if the current one has absorbed capacity/2 insertions.
func (f *RollingBloomFilter) Add(item []byte) {
	if f.curCount >= f.capacity/2 {
		f.rotate()
	}
	positions := f.bitPositions(item)
	for _, p := range positions {
		setBit(f.gen[f.cur], p)
	}
	f.curCount++
}

// Contains reports whether item was (probably) added within the last
// capacity/2 to capacity insertions.
func (f *RollingBloomFilter) Contains(item []byte) bool {
	positions := f.bitPositions(item)
	for _, gen := range f.gen {
		hit := true
		for _, p := range positions {
			if !testBit(gen, p) {
				hit = false
				break
			}
		}
		if hit {
			return true
		}
	}
	return false
}

func (f *RollingBloomFilter) rotate() {
	aging := 1 - f.cur
	for i := range f.gen[aging] {
		f.gen[aging][i] = 0
	}
	f.cur = aging
	f.curCount = 0
}
