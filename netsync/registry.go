package netsync

import (
	"sync"
	"time"
)

const (
	// connectionTimeout reclaims a stuck connect attempt.
	connectionTimeout = 60 * time.Second
	// banTimeout is how long a ban stays in effect.
	banTimeout = 30 * time.Minute
	// disconnectHitsThreshold is the count a peer's disconnect hits
	// must exceed before it gets banned.
	disconnectHitsThreshold = 5
)

// ConnectionRegistry tracks the three timestamped/counted peerId-keyed
// sets from spec §3: in-flight connect attempts, bans, and disconnect
// hit counts. It is guarded by its own mutex, distinct from the
// SyncManager's state-transition lock, so registry bookkeeping never
// blocks on (or is blocked by) a global state change.
type ConnectionRegistry struct {
	mu              sync.Mutex
	connectAttempts map[string]time.Time
	bans            map[string]time.Time
	disconnectHits  map[string]int
}

// NewConnectionRegistry returns an empty ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connectAttempts: make(map[string]time.Time),
		bans:            make(map[string]time.Time),
		disconnectHits:  make(map[string]int),
	}
}

// IsBanned reports whether peerID currently has an active ban.
func (r *ConnectionRegistry) IsBanned(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, banned := r.bans[peerID]
	return banned
}

// IsConnecting reports whether a connect attempt to peerID is already
// outstanding.
func (r *ConnectionRegistry) IsConnecting(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, connecting := r.connectAttempts[peerID]
	return connecting
}

// ClearConnectAttempt removes any outstanding connect attempt entry for
// peerID, called when a peer is offered to AddPeer, whether or not it is
// then admitted to the pool.
func (r *ConnectionRegistry) ClearConnectAttempt(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectAttempts, peerID)
}

// RecordConnectAttempt records that a connect attempt to peerID just
// started, at now.
func (r *ConnectionRegistry) RecordConnectAttempt(peerID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectAttempts[peerID] = now
}

// RegisterDisconnect increments peerID's disconnect-hit counter and
// reports whether that increment crossed the ban threshold. When it does,
// the counter is reset (per spec §4.3, "clear its hit counter"); the
// caller is responsible for actually calling Ban.
func (r *ConnectionRegistry) RegisterDisconnect(peerID string) (shouldBan bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectAttempts, peerID)
	hits := r.disconnectHits[peerID] + 1
	if hits > disconnectHitsThreshold {
		delete(r.disconnectHits, peerID)
		return true
	}
	r.disconnectHits[peerID] = hits
	return false
}

// Ban marks peerID as banned as of now.
func (r *ConnectionRegistry) Ban(peerID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[peerID] = now
}

// InUse returns the union of pool peer IDs, in-flight connect attempts,
// and bans — the set askNewPeers must exclude discovery candidates from.
func (r *ConnectionRegistry) InUse(poolIDs map[string]struct{}) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	inUse := make(map[string]struct{}, len(poolIDs)+len(r.connectAttempts)+len(r.bans))
	for id := range poolIDs {
		inUse[id] = struct{}{}
	}
	for id := range r.connectAttempts {
		inUse[id] = struct{}{}
	}
	for id := range r.bans {
		inUse[id] = struct{}{}
	}
	return inUse
}

// RemoveOutdatedConnections deletes connect-attempt entries older than
// connectionTimeout as of now.
func (r *ConnectionRegistry) RemoveOutdatedConnections(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.connectAttempts {
		if now.Sub(ts) > connectionTimeout {
			delete(r.connectAttempts, id)
		}
	}
}

// ReleaseBans deletes ban entries older than banTimeout as of now.
func (r *ConnectionRegistry) ReleaseBans(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.bans {
		if now.Sub(ts) > banTimeout {
			delete(r.bans, id)
			log.Infof("peer %s: releasing ban", id)
		}
	}
}

// BanCount reports how many peers are currently banned, used by the stats
// worker.
func (r *ConnectionRegistry) BanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bans)
}

// Bans returns a snapshot copy of the ban table, keyed by peer ID with the
// time each ban started.
func (r *ConnectionRegistry) Bans() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.bans))
	for id, ts := range r.bans {
		out[id] = ts
	}
	return out
}
