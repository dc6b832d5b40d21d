// Package wire holds the small slice of wire-level vocabulary the sync
// core needs to talk about peers without owning the wire protocol codec
// or framing itself (both of those live outside this module).
package wire

// ServiceFlag identifies services advertised by a peer during handshake.
// The sync core only ever reads this off a peer's handshake snapshot; it
// never encodes or decodes it.
type ServiceFlag uint64

const (
	// SFNodeNetwork indicates the peer is a full node capable of serving
	// block bodies rather than just relaying headers.
	SFNodeNetwork ServiceFlag = 1 << iota
)

// ReasonCode is sent alongside Peer.Disconnect to tell the transport (and
// whatever logs the disconnect) why the sync core dropped a peer.
type ReasonCode byte

const (
	// ReasonUselessPeer marks a peer that stopped making progress as
	// master (see masterStuckTimeThreshold in netsync) or that
	// otherwise proved unproductive to keep around.
	ReasonUselessPeer ReasonCode = iota
	// ReasonBadProtocol marks a peer that violated the sync protocol
	// contract (e.g. reported hashes it never delivered blocks for).
	ReasonBadProtocol
	// ReasonRequested marks a disconnect the local node itself asked
	// for, outside of any misbehavior on the peer's part.
	ReasonRequested
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonUselessPeer:
		return "useless peer"
	case ReasonBadProtocol:
		return "bad protocol"
	case ReasonRequested:
		return "requested"
	default:
		return "unknown reason"
	}
}
