// Package syncengine implements the headers-first sync pipeline of
// spec.md §4.9 (C13): requesting headers from a small peer sample and
// cross-validating them at checkpoint heights, pipelining bounded
// GetSlices batches against a per-peer in-flight bucket, an orphan pool
// for slices whose parent hasn't arrived yet, and backpressure pausing
// when local storage falls behind.
//
// Grounded on 2tbmz9y2xt-lang-rubin-protocol's clients/go/node/sync.go
// (SyncEngine struct shape: mutex-guarded best-known-height bookkeeping,
// a Config with sane defaults, a HeaderSyncRequest builder) generalized
// from rubin's single-peer IBD model to spec.md's multi-peer
// cross-validated headers-first design. The per-header VDF/VRF checks
// reuse the same crypto/vdf and crypto/vrf primitives presence.Validate
// already calls for full-slice validation (see presence/validate.go),
// trimmed to the two checks that apply to a header without its body.
package syncengine

import (
	"sync"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/config"
	"github.com/montana-acp/core/crypto/hash"
	"github.com/montana-acp/core/crypto/vdf"
	"github.com/montana-acp/core/crypto/vrf"
	"github.com/montana-acp/core/lottery"
	"github.com/montana-acp/core/types"
)

// MaxHeaderPeers bounds how many peers a single GetHeaders round fans out
// to, spec.md §4.9 ("request GetHeaders from up to 4 peers").
const MaxHeaderPeers = 4

// HeaderEnvelope is a header plus the minimal proof material needed to
// verify it without downloading its full slice body (presences,
// transactions): the VDF checkpoint proof and the VRF proof bytes.
type HeaderEnvelope struct {
	Header              types.Header
	VDFProofCheckpoints []hash.Digest
	VRFProof            []byte
}

// SelectHeaderPeers returns up to MaxHeaderPeers candidates from the
// caller-supplied pool, preserving the caller's ordering (the caller is
// expected to have already ordered candidates by preference, e.g.
// lowest-latency-first).
func SelectHeaderPeers(candidates []ids.NodeID) []ids.NodeID {
	if len(candidates) <= MaxHeaderPeers {
		return append([]ids.NodeID(nil), candidates...)
	}
	return append([]ids.NodeID(nil), candidates[:MaxHeaderPeers]...)
}

// VerifyHeaderProof checks a single header's VDF output against its
// proof and its VRF beta against its proof, the two checks spec.md §4.9
// requires headers-first sync to run before trusting a peer's chain
// ("A peer that returns headers that fail VDF/VRF verification is
// immediately demoted and eventually banned"). It deliberately does not
// check lottery-slot membership or presence/tx roots — those require the
// candidate pool and full body respectively, and are re-checked in full
// by presence.Validate once the slice itself is downloaded.
func VerifyHeaderProof(parent *types.Header, env HeaderEnvelope, vdfCheckT uint64) bool {
	if parent == nil {
		return false
	}
	parentHash := parent.Hash()
	if env.Header.ParentHash != parentHash {
		return false
	}
	vdfInput := vdf.Input(parentHash, env.Header.Height)
	proof := vdf.Proof{Checkpoints: env.VDFProofCheckpoints}
	if !vdf.Verify(vdfInput[:], env.Header.VDFOutput, proof, vdfCheckT) {
		return false
	}
	seed := lottery.Seed(parentHash, env.Header.Tau2Index)
	if !vrf.Verify(env.Header.ProducerPubKey, seed[:], env.Header.VRFBeta, vrf.Proof(env.VRFProof)) {
		return false
	}
	return true
}

// CrossValidate checks every responding peer's claimed header at each
// checkpoint height against the majority answer, and against VDF/VRF
// proof validity. It returns the set of peers to demote: either because
// their header failed VDF/VRF verification, or because their claimed
// header hash at a checkpoint height disagreed with the majority of
// other responders at that same height.
func CrossValidate(
	responses map[ids.NodeID][]HeaderEnvelope,
	checkpointHeights []uint64,
	parentOf func(env HeaderEnvelope) *types.Header,
	vdfCheckT uint64,
) []ids.NodeID {
	demote := make(map[ids.NodeID]bool)

	byHeightHash := make(map[uint64]map[hash.Digest]int)
	claimAt := make(map[ids.NodeID]map[uint64]hash.Digest)

	for peer, chain := range responses {
		claimAt[peer] = make(map[uint64]hash.Digest)
		for _, env := range chain {
			if !VerifyHeaderProof(parentOf(env), env, vdfCheckT) {
				demote[peer] = true
				continue
			}
			h := env.Header.Hash()
			for _, cp := range checkpointHeights {
				if env.Header.Height == cp {
					if byHeightHash[cp] == nil {
						byHeightHash[cp] = make(map[hash.Digest]int)
					}
					byHeightHash[cp][h]++
					claimAt[peer][cp] = h
				}
			}
		}
	}

	for cp, counts := range byHeightHash {
		majority := majorityHash(counts)
		for peer, claims := range claimAt {
			if h, ok := claims[cp]; ok && h != majority {
				demote[peer] = true
			}
		}
	}

	out := make([]ids.NodeID, 0, len(demote))
	for peer := range demote {
		out = append(out, peer)
	}
	return out
}

func majorityHash(counts map[hash.Digest]int) hash.Digest {
	var best hash.Digest
	bestCount := -1
	for h, c := range counts {
		if c > bestCount {
			best, bestCount = h, c
		}
	}
	return best
}

// ChunkGetSlices splits wanted into batches no larger than
// config.SyncMaxSlicesPerRequest, spec.md §4.9's pipelined GetSlices cap.
func ChunkGetSlices(wanted []hash.Digest) [][]hash.Digest {
	if len(wanted) == 0 {
		return nil
	}
	var out [][]hash.Digest
	for len(wanted) > 0 {
		n := config.SyncMaxSlicesPerRequest
		if n > len(wanted) {
			n = len(wanted)
		}
		out = append(out, wanted[:n])
		wanted = wanted[n:]
	}
	return out
}

// InFlightTracker bounds, per peer, how many outstanding GetData/GetSlices
// requests may be in flight at once: a FIFO bucket capped at
// config.SyncMaxInFlight (spec.md §4.9).
type InFlightTracker struct {
	mu   sync.Mutex
	byPeer map[ids.NodeID]*peerBucket
}

type peerBucket struct {
	order []hash.Digest
	set   map[hash.Digest]bool
}

// NewInFlightTracker returns an empty tracker.
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{byPeer: make(map[ids.NodeID]*peerBucket)}
}

// Track records h as in flight for peer, evicting the oldest entry (FIFO)
// if the bucket is already at config.SyncMaxInFlight. Returns the evicted
// hash, if any, so the caller can treat it as abandoned (eligible for
// retry against a different peer).
func (t *InFlightTracker) Track(peer ids.NodeID, h hash.Digest) (evicted hash.Digest, didEvict bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.byPeer[peer]
	if b == nil {
		b = &peerBucket{set: make(map[hash.Digest]bool)}
		t.byPeer[peer] = b
	}
	if b.set[h] {
		return hash.Digest{}, false
	}
	if len(b.order) >= config.SyncMaxInFlight {
		evicted = b.order[0]
		b.order = b.order[1:]
		delete(b.set, evicted)
		didEvict = true
	}
	b.order = append(b.order, h)
	b.set[h] = true
	return evicted, didEvict
}

// Fulfill removes h from peer's in-flight bucket once the slice arrives.
func (t *InFlightTracker) Fulfill(peer ids.NodeID, h hash.Digest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.byPeer[peer]
	if b == nil || !b.set[h] {
		return
	}
	delete(b.set, h)
	for i, candidate := range b.order {
		if candidate == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Count returns how many requests are currently in flight for peer.
func (t *InFlightTracker) Count(peer ids.NodeID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.byPeer[peer]
	if b == nil {
		return 0
	}
	return len(b.order)
}

// OrphanEntry is one slice pending in the orphan pool, waiting on its
// parent.
type OrphanEntry struct {
	Hash       hash.Digest
	ParentHash hash.Digest
	Height     uint64
}

// OrphanPool holds slices whose parent is unknown, capped at
// config.OrphanPoolMax with FIFO eviction (spec.md §4.9).
type OrphanPool struct {
	mu    sync.Mutex
	order []hash.Digest
	byHash map[hash.Digest]OrphanEntry
	requestedParent map[hash.Digest]bool
}

// NewOrphanPool returns an empty orphan pool.
func NewOrphanPool() *OrphanPool {
	return &OrphanPool{
		byHash:          make(map[hash.Digest]OrphanEntry),
		requestedParent: make(map[hash.Digest]bool),
	}
}

// Add inserts e into the pool, evicting the oldest orphan first if the
// pool is already full. needGetData reports whether the caller should
// issue a GetData for e.ParentHash: true the first time any orphan names
// that parent, false on a repeat (spec.md §4.9: "each orphan triggers one
// GetData for its parent").
func (p *OrphanPool) Add(e OrphanEntry) (needGetData bool, evicted hash.Digest, didEvict bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byHash[e.Hash]; exists {
		return false, hash.Digest{}, false
	}
	if len(p.order) >= config.OrphanPoolMax {
		evicted = p.order[0]
		p.order = p.order[1:]
		old := p.byHash[evicted]
		delete(p.byHash, evicted)
		delete(p.requestedParent, old.ParentHash)
		didEvict = true
	}
	p.order = append(p.order, e.Hash)
	p.byHash[e.Hash] = e
	needGetData = !p.requestedParent[e.ParentHash]
	p.requestedParent[e.ParentHash] = true
	return needGetData, evicted, didEvict
}

// Resolve removes and returns every orphan waiting on parentHash, for the
// caller to re-submit for validation now that the parent is available.
func (p *OrphanPool) Resolve(parentHash hash.Digest) []OrphanEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var resolved []OrphanEntry
	remaining := p.order[:0]
	for _, h := range p.order {
		e := p.byHash[h]
		if e.ParentHash == parentHash {
			resolved = append(resolved, e)
			delete(p.byHash, h)
		} else {
			remaining = append(remaining, h)
		}
	}
	p.order = remaining
	delete(p.requestedParent, parentHash)
	return resolved
}

// Count reports how many orphans are currently pooled.
func (p *OrphanPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// FlowControl implements spec.md §4.9's backpressure rule: once the local
// storage write queue exceeds a watermark, new GetData emission pauses
// and each peer may accumulate at most config.MaxFlowControlPausesPerPeer
// responses that have arrived but can't yet be applied, before that peer
// must be dropped to bound memory.
type FlowControl struct {
	mu          sync.Mutex
	active      bool
	queuedByPeer map[ids.NodeID]int
}

// NewFlowControl returns a FlowControl with backpressure initially off.
func NewFlowControl() *FlowControl {
	return &FlowControl{queuedByPeer: make(map[ids.NodeID]int)}
}

// SetActive toggles backpressure based on the storage write queue depth
// crossing its watermark (the caller owns that comparison).
func (f *FlowControl) SetActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
	if !active {
		for k := range f.queuedByPeer {
			delete(f.queuedByPeer, k)
		}
	}
}

// ShouldPauseGetData reports whether new GetData emission should pause.
func (f *FlowControl) ShouldPauseGetData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// AdmitDuringPause records one more unapplied response arriving from peer
// while backpressure is active. It returns false once peer's queued count
// would exceed config.MaxFlowControlPausesPerPeer, signaling the caller
// to drop that peer rather than let its backlog grow unbounded.
func (f *FlowControl) AdmitDuringPause(peer ids.NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return true
	}
	if f.queuedByPeer[peer] >= config.MaxFlowControlPausesPerPeer {
		return false
	}
	f.queuedByPeer[peer]++
	return true
}

// Resume clears peer's backlog counter once its queued responses have
// been applied to storage.
func (f *FlowControl) Resume(peer ids.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queuedByPeer, peer)
}
