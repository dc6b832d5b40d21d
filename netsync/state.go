package netsync

// SyncState is the global sync state machine's current phase, per spec §3.
type SyncState int

const (
	// StateInit is the state before any peer has been admitted.
	StateInit SyncState = iota
	// StateHashRetrieving means a master peer is enumerating hashes
	// backward from its reported tip.
	StateHashRetrieving
	// StateGapRecovery means a large gap was discovered and a
	// dedicated master is enumerating hashes to backfill it, alongside
	// (not instead of) normal sync.
	StateGapRecovery
	// StateBlockRetrieving means every peer is fetching block bodies
	// for hashes already enumerated.
	StateBlockRetrieving
	// StateDoneGapRecovery means a gap-recovery walk finished; peers
	// return to block retrieval.
	StateDoneGapRecovery
	// StateDoneSync is reached once a fresh block is imported outside
	// of any recovery window — the node considers itself caught up.
	StateDoneSync
)

func (s SyncState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHashRetrieving:
		return "HASH_RETRIEVING"
	case StateGapRecovery:
		return "GAP_RECOVERY"
	case StateBlockRetrieving:
		return "BLOCK_RETRIEVING"
	case StateDoneGapRecovery:
		return "DONE_GAP_RECOVERY"
	case StateDoneSync:
		return "DONE_SYNC"
	default:
		return "UNKNOWN"
	}
}
