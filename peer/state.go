package peer

// State is a peer's per-peer substate, driven entirely by SyncManager
// transitions — a peer never decides on its own to move between states.
type State int

const (
	// Idle is where a peer sits when it isn't currently driving or
	// serving any part of sync.
	Idle State = iota
	// HashRetrieving means the peer is the master and is walking its
	// chain backward by hash.
	HashRetrieving
	// BlockRetrieving means the peer is fetching block bodies for
	// hashes already enumerated.
	BlockRetrieving
	// DoneHashes means the peer (as master) finished enumerating hashes
	// back to a known ancestor.
	DoneHashes
	// DoneSync means global sync has completed and the peer has been
	// told so.
	DoneSync
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case HashRetrieving:
		return "HASH_RETRIEVING"
	case BlockRetrieving:
		return "BLOCK_RETRIEVING"
	case DoneHashes:
		return "DONE_HASHES"
	case DoneSync:
		return "DONE_SYNC"
	default:
		return "UNKNOWN"
	}
}
