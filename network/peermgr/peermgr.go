// Package peermgr implements connection-slot accounting, eviction, and
// discouragement for the network engine: per-IP/per-netgroup connection
// caps, the 6-category protected-slot eviction policy, in-memory anchor
// slots, and the rolling-bloom-filter ban list of spec.md §4.5/§4.11.
//
// Grounded on rubin-protocol's clients/go/node/p2p/banscore.go decaying
// per-connection score (generalized here into PeerStats' RecentPing/
// RecentTxRelay/RecentSliceRelay/ConnectedSince bookkeeping) and peer.go's
// PeerRole/Peer shape (generalized into Conn below). The protected-slot
// eviction categories themselves follow spec.md's own enumerated policy —
// no pack repo implements Bitcoin-style eviction protection, so that part
// is built from the invariant, not imitated.
package peermgr

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/montana-acp/core/config"
)

// Conn is one tracked peer connection's accounting state.
type Conn struct {
	NodeID          ids.NodeID
	Address         string
	Netgroup        string
	Inbound         bool
	ConnectedSince  time.Time
	PingMillis      float64
	LastTxRelay     time.Time
	LastSliceRelay  time.Time
	NoBan           bool // locally whitelisted (e.g. loopback, operator-pinned)
}

// Manager tracks all live connections and enforces spec.md's slot caps,
// eviction policy, in-memory anchor slots, and discouragement list.
type Manager struct {
	mu sync.Mutex

	conns map[ids.NodeID]*Conn

	perIP       map[string]int
	perNetgroup map[string]int

	anchors [2]string // last two successful outbound addresses, most recent first

	bans *RollingBloomFilter
}

func NewManager() *Manager {
	return &Manager{
		conns:       make(map[ids.NodeID]*Conn),
		perIP:       make(map[string]int),
		perNetgroup: make(map[string]int),
		bans:        NewRollingBloomFilter(),
	}
}

var (
	errPerIPCapExceeded       = fmt.Errorf("peermgr: per-IP connection cap exceeded")
	errPerNetgroupCapExceeded = fmt.Errorf("peermgr: per-netgroup connection cap exceeded")
	errDiscouraged            = fmt.Errorf("peermgr: address is discouraged")
	errInboundSlotsFull       = fmt.Errorf("peermgr: inbound slots full and no evictable connection found")
)

// Admit registers a new connection, enforcing the per-IP/per-netgroup caps
// and the discouragement list before counting it against MaxInbound.
func (m *Manager) Admit(c *Conn, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bans.Contains([]byte(ip)) {
		return errDiscouraged
	}
	if m.perIP[ip] >= config.PerIPConnectionCap {
		return errPerIPCapExceeded
	}
	if m.perNetgroup[c.Netgroup] >= config.PerNetgroupCap {
		return errPerNetgroupCapExceeded
	}
	if c.Inbound && m.inboundCountLocked() >= config.MaxInbound {
		victim := m.selectEvictionVictimLocked()
		if victim == nil {
			return errInboundSlotsFull
		}
		m.removeLocked(victim.NodeID)
	}

	m.conns[c.NodeID] = c
	m.perIP[ip]++
	m.perNetgroup[c.Netgroup]++
	return nil
}

// Remove drops a connection's accounting (call on disconnect).
func (m *Manager) Remove(id ids.NodeID, ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	if m.perIP[ip] > 0 {
		m.perIP[ip]--
	}
}

func (m *Manager) removeLocked(id ids.NodeID) {
	c, ok := m.conns[id]
	if !ok {
		return
	}
	if m.perNetgroup[c.Netgroup] > 0 {
		m.perNetgroup[c.Netgroup]--
	}
	delete(m.conns, id)
}

func (m *Manager) inboundCountLocked() int {
	n := 0
	for _, c := range m.conns {
		if c.Inbound {
			n++
		}
	}
	return n
}

// Discourage adds ip to the rolling ban filter.
func (m *Manager) Discourage(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans.Add([]byte(ip))
}

// IsDiscouraged reports whether ip is (probably) on the ban list.
func (m *Manager) IsDiscouraged(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bans.Contains([]byte(ip))
}

// RecordOutboundSuccess shifts the anchor slots so they hold the two most
// recently successful outbound addresses. The slots live in memory only:
// nothing writes them to disk, so they do not survive a restart, and
// nothing in this repository dials them.
func (m *Manager) RecordOutboundSuccess(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.anchors[0] == address || m.anchors[1] == address {
		return
	}
	m.anchors[1] = m.anchors[0]
	m.anchors[0] = address
}

// Anchors returns the in-memory anchor addresses, most recent first.
func (m *Manager) Anchors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.anchors {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// protectedCounts names the 6 eviction-protected categories and how many
// inbound slots each protects, totaling config counts summed to 32 of 117
// (spec.md §4.5).
var protectedCounts = struct {
	noBan, netgroupDiverse, lowestPing, recentTxRelay, recentSliceRelay, longestConnected int
}{
	noBan:             config.ProtectedNoBan,
	netgroupDiverse:   config.ProtectedNetgroupDiverse,
	lowestPing:        config.ProtectedLowestPing,
	recentTxRelay:     config.ProtectedRecentTxRelay,
	recentSliceRelay:  config.ProtectedRecentSliceRelay,
	longestConnected:  config.ProtectedLongestConnected,
}

// selectEvictionVictimLocked picks one inbound connection to drop to make
// room for a new inbound connection, by first carving out the protected
// set (6 categories, spec.md §4.5) and then evicting an arbitrary
// non-protected inbound connection. Returns nil if every inbound
// connection is protected (the caller must then refuse the new
// connection).
func (m *Manager) selectEvictionVictimLocked() *Conn {
	var inbound []*Conn
	for _, c := range m.conns {
		if c.Inbound {
			inbound = append(inbound, c)
		}
	}
	if len(inbound) == 0 {
		return nil
	}

	protected := make(map[ids.NodeID]bool)

	protectBy(inbound, protected, protectedCounts.noBan, func(c *Conn) bool { return c.NoBan })
	protectTopKByNetgroupDiversity(inbound, protected, protectedCounts.netgroupDiverse)
	protectTopK(inbound, protected, protectedCounts.lowestPing, func(a, b *Conn) bool { return a.PingMillis < b.PingMillis })
	protectTopK(inbound, protected, protectedCounts.recentTxRelay, func(a, b *Conn) bool { return a.LastTxRelay.After(b.LastTxRelay) })
	protectTopK(inbound, protected, protectedCounts.recentSliceRelay, func(a, b *Conn) bool { return a.LastSliceRelay.After(b.LastSliceRelay) })
	protectTopK(inbound, protected, protectedCounts.longestConnected, func(a, b *Conn) bool { return a.ConnectedSince.Before(b.ConnectedSince) })

	for _, c := range inbound {
		if !protected[c.NodeID] {
			return c
		}
	}
	return nil
}

func protectBy(conns []*Conn, protected map[ids.NodeID]bool, limit int, pred func(*Conn) bool) {
	n := 0
	for _, c := range conns {
		if n >= limit {
			return
		}
		if pred(c) {
			protected[c.NodeID] = true
			n++
		}
	}
}

func protectTopK(conns []*Conn, protected map[ids.NodeID]bool, limit int, less func(a, b *Conn) bool) {
	sorted := append([]*Conn(nil), conns...)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	n := 0
	for _, c := range sorted {
		if n >= limit {
			return
		}
		protected[c.NodeID] = true
		n++
	}
}

// protectTopKByNetgroupDiversity protects up to one connection per
// distinct netgroup, preferring the longest-connected representative of
// each netgroup, until limit slots are used — maximizing the number of
// distinct subnets that survive eviction.
func protectTopKByNetgroupDiversity(conns []*Conn, protected map[ids.NodeID]bool, limit int) {
	byGroup := make(map[string]*Conn)
	for _, c := range conns {
		best, ok := byGroup[c.Netgroup]
		if !ok || c.ConnectedSince.Before(best.ConnectedSince) {
			byGroup[c.Netgroup] = c
		}
	}
	var reps []*Conn
	for _, c := range byGroup {
		reps = append(reps, c)
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i].Netgroup < reps[j].Netgroup })
	n := 0
	for _, c := range reps {
		if n >= limit {
			return
		}
		protected[c.NodeID] = true
		n++
	}
}
