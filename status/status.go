// Package status exposes exactly the three user-visible node states of
// spec.md §7: "A user sees one of three states: syncing (X/Y), joined
// (tip=… height=…), or stopped: <error kind>. The node never claims
// joined without a successful bootstrap."
//
// Grounded on the teacher's core/status.go (a Status int enum with a
// String method and a Decided predicate) and core/health.go (a separate
// Health enum reported independently of consensus progress) — here
// generalized into a single mutex-guarded State that a supervisor
// updates as bootstrap, sync, and shutdown progress, since this spec
// names one user-facing status surface rather than the teacher's two
// separate consensus-item/health concerns.
package status

import (
	"fmt"
	"sync"

	"github.com/montana-acp/core/acperr"
	"github.com/montana-acp/core/crypto/hash"
)

// Phase is the coarse state machine behind the three user-visible forms.
type Phase int

const (
	PhaseSyncing Phase = iota
	PhaseJoined
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseSyncing:
		return "syncing"
	case PhaseJoined:
		return "joined"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable read of the current status, safe to hand to a
// CLI command or a metrics exporter without holding any lock.
type Snapshot struct {
	Phase Phase

	// Valid when Phase == PhaseSyncing: progress towards the sampled
	// consensus tip height.
	SyncedHeight uint64
	TargetHeight uint64

	// Valid when Phase == PhaseJoined: the node never reports this
	// without a completed bootstrap.Decide (spec.md §7).
	TipHash   hash.Digest
	TipHeight uint64

	// Valid when Phase == PhaseStopped: the acperr.Kind that ended the
	// node, per spec.md §7's propagation policy (only acperr.Kind.Fatal()
	// kinds reach this far).
	StoppedKind acperr.Kind
}

// String renders the snapshot exactly as spec.md §7 names the three
// forms: "syncing (X/Y)", "joined (tip=… height=…)", "stopped: <kind>".
func (s Snapshot) String() string {
	switch s.Phase {
	case PhaseSyncing:
		return fmt.Sprintf("syncing (%d/%d)", s.SyncedHeight, s.TargetHeight)
	case PhaseJoined:
		return fmt.Sprintf("joined (tip=%s height=%d)", s.TipHash, s.TipHeight)
	case PhaseStopped:
		return fmt.Sprintf("stopped: %s", s.StoppedKind)
	default:
		return "unknown"
	}
}

// Tracker is the mutex-guarded status surface a node's supervisor
// updates and any number of readers (CLI `status` command, metrics
// exporter) poll concurrently.
type Tracker struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// New returns a Tracker starting in the syncing phase at 0/0, the state
// a freshly constructed node reports before its first header response.
func New() *Tracker {
	return &Tracker{snapshot: Snapshot{Phase: PhaseSyncing}}
}

// Snapshot returns the current status for display.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// SetSyncing records sync progress. A no-op once the tracker has moved
// to Joined or Stopped — those are terminal for this process's lifetime
// (a resync after a reorg-driven rollback starts a new Tracker via the
// supervisor, not a transition back from Joined).
func (t *Tracker) SetSyncing(syncedHeight, targetHeight uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot.Phase != PhaseSyncing {
		return
	}
	t.snapshot.SyncedHeight = syncedHeight
	t.snapshot.TargetHeight = targetHeight
}

// SetJoined transitions to the joined state. Per spec.md §7 this must
// only be called after a successful bootstrap.Decide.
func (t *Tracker) SetJoined(tipHash hash.Digest, tipHeight uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot.Phase == PhaseStopped {
		return
	}
	t.snapshot = Snapshot{Phase: PhaseJoined, TipHash: tipHash, TipHeight: tipHeight}
}

// SetStopped transitions to the terminal stopped state, recording the
// acperr.Kind that caused it. Once stopped, the tracker never changes
// state again — the process is expected to exit.
func (t *Tracker) SetStopped(kind acperr.Kind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot = Snapshot{Phase: PhaseStopped, StoppedKind: kind}
}

// IsJoined reports whether the node currently considers itself joined —
// the gate spec.md §7 describes for accepting user-facing RPCs that
// require a caught-up view of the chain.
func (t *Tracker) IsJoined() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Phase == PhaseJoined
}
