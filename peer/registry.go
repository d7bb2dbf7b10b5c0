package peer

import (
	"sync"
	"time"
)

// Registry is the authoritative map of peer id to contact info. All
// mutations happen under one lock held only across map operations;
// callers snapshot before doing network I/O.
type Registry struct {
	selfID string

	mu       sync.Mutex
	peers    map[string]PeerInfo
	lastSeen map[string]time.Time
}

// NewRegistry creates an empty registry. Records carrying selfID are
// refused so the peer never tracks itself.
func NewRegistry(selfID string) *Registry {
	return &Registry{
		selfID:   selfID,
		peers:    make(map[string]PeerInfo),
		lastSeen: make(map[string]time.Time),
	}
}

// Upsert inserts or replaces a record. Invalid records and records for
// the local peer are refused. The first return reports whether the id
// was previously unknown, the second whether the record was stored.
func (r *Registry) Upsert(info PeerInfo) (isNew, stored bool) {
	if info.ID == r.selfID || !info.IsValid() {
		return false, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.peers[info.ID]
	r.peers[info.ID] = info
	r.lastSeen[info.ID] = time.Now()
	return !known, true
}

// Remove deletes a record, reporting whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	delete(r.peers, id)
	delete(r.lastSeen, id)
	return ok
}

// Get returns the record for a peer id.
func (r *Registry) Get(id string) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.peers[id]
	return info, ok
}

// Contains reports whether a peer id is known.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// Snapshot returns a copy of all records for use outside the lock.
func (r *Registry) Snapshot() []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, info)
	}
	return out
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// MarkSeen refreshes the liveness timestamp for a known peer. Ids not
// in the registry are ignored.
func (r *Registry) MarkSeen(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; ok {
		r.lastSeen[id] = time.Now()
	}
}

// ExpireStale removes peers whose last heartbeat or update is older
// than timeout, returning the evicted records.
func (r *Registry) ExpireStale(timeout time.Duration) []PeerInfo {
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []PeerInfo
	for id, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			if info, ok := r.peers[id]; ok {
				evicted = append(evicted, info)
			}
			delete(r.peers, id)
			delete(r.lastSeen, id)
		}
	}
	return evicted
}
