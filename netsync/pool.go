package netsync

import (
	"sync"
	"sync/atomic"

	"github.com/ke-chain/btcsync/peer"
)

// PeerPool holds the active peer set. It is copy-on-write, per the
// "Shared-mutable peer list" design note: readers (the maintenance loop,
// changeState) take an immutable snapshot and iterate it without ever
// blocking a concurrent Add/Remove from an event thread. A writer must
// still serialize against other writers, hence writeMu.
type PeerPool struct {
	snapshot atomic.Value // []PeerHandler
	writeMu  sync.Mutex
}

// NewPeerPool returns an empty PeerPool.
func NewPeerPool() *PeerPool {
	p := &PeerPool{}
	p.snapshot.Store([]PeerHandler{})
	return p
}

// Snapshot returns the current peer list. The caller must not mutate it;
// treat it as a read-only point-in-time view.
func (p *PeerPool) Snapshot() []PeerHandler {
	return p.snapshot.Load().([]PeerHandler)
}

// Len reports the current pool size.
func (p *PeerPool) Len() int {
	return len(p.Snapshot())
}

// Add appends peer to the pool.
func (p *PeerPool) Add(pr PeerHandler) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	old := p.Snapshot()
	next := make([]PeerHandler, len(old), len(old)+1)
	copy(next, old)
	next = append(next, pr)
	p.snapshot.Store(next)
}

// Remove drops pr from the pool if present, reporting whether it was
// found.
func (p *PeerPool) Remove(pr PeerHandler) bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	old := p.Snapshot()
	idx := -1
	for i, existing := range old {
		if existing == pr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	next := make([]PeerHandler, 0, len(old)-1)
	next = append(next, old[:idx]...)
	next = append(next, old[idx+1:]...)
	p.snapshot.Store(next)
	return true
}

// RemoveIf removes every peer matching pred and returns the removed
// peers, used by checkPeers to drop peers that ran out of blocks.
func (p *PeerPool) RemoveIf(pred func(PeerHandler) bool) []PeerHandler {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	old := p.Snapshot()
	next := make([]PeerHandler, 0, len(old))
	var removed []PeerHandler
	for _, pr := range old {
		if pred(pr) {
			removed = append(removed, pr)
		} else {
			next = append(next, pr)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	p.snapshot.Store(next)
	return removed
}

// Contains reports whether pr is currently in the pool.
func (p *PeerPool) Contains(pr PeerHandler) bool {
	for _, existing := range p.Snapshot() {
		if existing == pr {
			return true
		}
	}
	return false
}

// ChangeStateAll transitions every peer currently in the pool to s.
func (p *PeerPool) ChangeStateAll(s peer.State) {
	for _, pr := range p.Snapshot() {
		pr.ChangeState(s)
	}
}

// ChangeStateIf transitions every peer matching pred to s.
func (p *PeerPool) ChangeStateIf(s peer.State, pred func(PeerHandler) bool) {
	for _, pr := range p.Snapshot() {
		if pred(pr) {
			pr.ChangeState(s)
		}
	}
}

// Max returns the peer for which less never reports true against any
// other peer in the pool — i.e. the maximum under less — or nil if the
// pool is empty. Used for master-peer selection by total difficulty.
func (p *PeerPool) Max(less func(a, b PeerHandler) bool) PeerHandler {
	snap := p.Snapshot()
	if len(snap) == 0 {
		return nil
	}
	best := snap[0]
	for _, pr := range snap[1:] {
		if less(best, pr) {
			best = pr
		}
	}
	return best
}

// PeerIDContains reports whether a peer with the given ID is currently in
// the pool.
func (p *PeerPool) PeerIDContains(id string) bool {
	for _, existing := range p.Snapshot() {
		if existing.PeerID() == id {
			return true
		}
	}
	return false
}

// PeerIDs returns the set of peer IDs currently in the pool.
func (p *PeerPool) PeerIDs() map[string]struct{} {
	snap := p.Snapshot()
	ids := make(map[string]struct{}, len(snap))
	for _, pr := range snap {
		ids[pr.PeerID()] = struct{}{}
	}
	return ids
}
