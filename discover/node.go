// Package discover provides the concrete default implementation of the
// spec's NodeDiscovery collaborator: a table of nodes seen on the network,
// each carrying whatever status message and reputation the (out of scope)
// discovery protocol itself last recorded for it. The protocol that
// produces these records — pings, neighbor lookups, the DHT walk — lives
// outside this package; NodeManager only stores and serves the results.
package discover

import "math/big"

// Node identifies a network endpoint by its stable peer ID and address.
type Node struct {
	ID      string
	Address string
}

// StatusMessage is the last handshake status a node reported inbound,
// mirroring the ethereumj original's NodeStatistics.getEthLastInboundStatusMsg.
type StatusMessage struct {
	TotalDifficulty *big.Int
}

// NodeStatistics tracks what's known about a node independent of whether
// it is currently an active peer.
type NodeStatistics struct {
	LastInboundStatus *StatusMessage
	Reputation        int
}

// NodeHandler pairs a Node with its NodeStatistics, the unit askNewPeers
// and the discovery subscriber both operate on.
type NodeHandler struct {
	Node       Node
	Statistics NodeStatistics
}

// TotalDifficulty returns the total difficulty from the node's last inbound
// status message, or nil if it never sent one.
func (h *NodeHandler) TotalDifficulty() *big.Int {
	if h.Statistics.LastInboundStatus == nil {
		return nil
	}
	return h.Statistics.LastInboundStatus.TotalDifficulty
}

// HasStatusMessage reports whether the node has ever sent a status
// message, the baseline filter every netsync query against discovery
// applies.
func (h *NodeHandler) HasStatusMessage() bool {
	return h.Statistics.LastInboundStatus != nil
}
