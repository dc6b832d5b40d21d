package netsync

import "github.com/ke-chain/btcsync/discover"

// DiscoverySubscriber is the sync core's discover.DiscoverListener, per
// spec §4.5. It is registered against discoverySubscriberPredicate, so by
// the time NodeAppeared fires the node has already been judged
// substantially better than what's known; NodeAppeared just forwards to
// initiateConnection, which applies the ban/in-flight checks.
// NodeDisappeared is intentionally ignored — a node dropping out of the
// discovery table says nothing about whether the sync core should drop an
// established connection to it, and the maintenance loop already reaps
// dead peers on disconnect.
type DiscoverySubscriber struct {
	manager *SyncManager
}

// newDiscoverySubscriber returns a DiscoverySubscriber bound to manager.
func newDiscoverySubscriber(manager *SyncManager) *DiscoverySubscriber {
	return &DiscoverySubscriber{manager: manager}
}

// NodeAppeared attempts an immediate connection to a newly-qualifying node.
func (s *DiscoverySubscriber) NodeAppeared(h *discover.NodeHandler) {
	s.manager.initiateConnection(h)
}

// NodeDisappeared is a no-op; see the type doc comment.
func (s *DiscoverySubscriber) NodeDisappeared(h *discover.NodeHandler) {
}
