package netsync

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ke-chain/btcsync/blockchain"
	"github.com/ke-chain/btcsync/discover"
	"github.com/ke-chain/btcsync/peer"
	"github.com/ke-chain/btcsync/wire"
)

// Config configures a SyncManager. It is read once at construction time
// and treated as immutable afterward, per the "pass config by value"
// design note: the core never reaches back into a global config
// singleton.
type Config struct {
	// IsSyncEnabled gates the whole subsystem: when false, New returns a
	// SyncManager whose Start is a no-op.
	IsSyncEnabled bool

	// SyncPeerCount is the target pool size askNewPeers tries to reach.
	SyncPeerCount int

	// MaxHashesAsk is the default per-batch hash request cap handed to
	// a newly elected master.
	MaxHashesAsk int

	// PeerChannelReadTimeout is not consumed by the core; it is read by
	// the transport and carried here only so one Config value can
	// describe the whole sync-related surface.
	PeerChannelReadTimeout time.Duration

	// DatabaseDir is not consumed by the core; listed for context, per
	// spec §6.
	DatabaseDir string
}

// PeerHandler is the per-peer collaborator contract from spec §6. The
// concrete peer.Peer type implements it; tests substitute fakes.
type PeerHandler interface {
	PeerID() string
	TotalDifficulty() *big.Int
	BestHash() chainhash.Hash
	HandshakeStatusMessage() peer.HandshakeStatus
	HashesLoadedCnt() int64
	IsIdle() bool
	IsHashRetrieving() bool
	IsHashRetrievingDone() bool
	HasNoMoreBlocks() bool
	ChangeState(peer.State)
	SetMaxHashesAsk(int)
	Disconnect(wire.ReasonCode)
	ProhibitTransactions()
	AllowTransactions()
	OnDisconnect()
	LogSyncStats()
}

// BlockQueue is the block-queue collaborator contract from spec §6. The
// spec phrases hash-store mutation as getHashStore().clear() /
// getHashStore().addFirst(hash); this flattens that one level, since the
// hash store has no independent identity of its own in this module.
type BlockQueue interface {
	IsHashesEmpty() bool
	HasSolidBlocks() bool
	ClearHashStore()
	AddFirstHash(hash chainhash.Hash)
	SetBestHash(hash chainhash.Hash)
}

// Blockchain is the local-chain collaborator contract from spec §6.
type Blockchain interface {
	BestBlock() blockchain.Block
	TotalDifficulty() *big.Int
	BestBlockHash() chainhash.Hash
}

// NodeDiscovery is the discovery-layer collaborator contract from spec
// §6.
type NodeDiscovery interface {
	AddDiscoverListener(listener discover.DiscoverListener, predicate discover.Predicate)
	GetNodes(predicate discover.NodePredicate, less discover.NodeLess, limit int) []*discover.NodeHandler
}

// Transport is the non-blocking connection-initiation contract from spec
// §6: Connect dispatches a dial attempt and returns immediately.
type Transport interface {
	Connect(node discover.Node)
}

// EventSink receives the onSyncDone event, fired exactly once per process
// lifetime.
type EventSink interface {
	OnSyncDone()
}
