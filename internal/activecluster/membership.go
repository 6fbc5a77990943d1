// Package activecluster implements the peer-symmetric ActiveCluster
// (spec.md §4.3): any node may coordinate a write by acquiring a
// distributed mutual-exclusion lock, applying locally, then pushing to
// all peers under a best-effort commit.
//
// Grounded on the teacher's internal/cluster/membership.go (a
// sync.RWMutex-guarded map of peers, "replace with gossip later" note
// kept verbatim in spirit) generalized with a health score and
// heartbeat-driven eviction per spec.md §4.3.
package activecluster

import (
	"sync"
	"time"
)

// PeerDescriptor is spec.md §3's PeerDescriptor: a cluster member as
// seen by the local node.
type PeerDescriptor struct {
	ID              string
	Address         string // internal host:port used for peer protocol
	LastHeartbeat   time.Time
	HealthScore     int
}

const (
	initialHealthScore = 100
	minHealthScore     = 0
)

// Membership tracks known peers and their health. In production this
// would be replaced with a gossip protocol (SWIM/Serf); static,
// heartbeat-driven membership is the right starting point, same
// judgment call the teacher's Membership type documents.
type Membership struct {
	selfID string

	mu    sync.RWMutex
	peers map[string]*PeerDescriptor
}

// NewMembership creates a membership tracker for selfID, seeded with
// peer descriptors.
func NewMembership(selfID string, peers []PeerDescriptor) *Membership {
	m := &Membership{selfID: selfID, peers: make(map[string]*PeerDescriptor)}
	for _, p := range peers {
		pp := p
		pp.LastHeartbeat = time.Now()
		pp.HealthScore = initialHealthScore
		m.peers[pp.ID] = &pp
	}
	return m
}

// Add registers a new peer (or replaces an existing one's address).
func (m *Membership) Add(id, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[id] = &PeerDescriptor{ID: id, Address: addr, LastHeartbeat: time.Now(), HealthScore: initialHealthScore}
}

// Remove drops a peer from membership and from any lock manager
// participant list that reads the same snapshot.
func (m *Membership) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
}

// All returns a snapshot of every known peer (excluding self).
func (m *Membership) All() []PeerDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerDescriptor, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// Get returns the descriptor for id, if known.
func (m *Membership) Get(id string) (PeerDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return PeerDescriptor{}, false
	}
	return *p, true
}

// MarkHeartbeat resets a peer's health to full and stamps the
// heartbeat time — called on every successful HEARTBEAT reply.
func (m *Membership) MarkHeartbeat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[id]; ok {
		p.LastHeartbeat = time.Now()
		p.HealthScore = initialHealthScore
	}
}

// PenalizeMissedHeartbeat halves a peer's health score (supplemented
// behavior, SPEC_FULL.md §10) and reports whether the peer should now
// be evicted (score collapsed to the floor).
func (m *Membership) PenalizeMissedHeartbeat(id string) (evict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return false
	}
	p.HealthScore /= 2
	if p.HealthScore <= minHealthScore {
		p.HealthScore = minHealthScore
		return true
	}
	return false
}

// Count returns the number of known peers, excluding self.
func (m *Membership) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
