// Package blockchain provides the block model and the concrete Blockchain
// collaborator the sync core drives against. Block validation, the chain
// selection policy beyond total difficulty, and the persistent block store
// itself all live outside this package's remit; it only tracks the local
// best block well enough to answer the questions netsync needs answered.
package blockchain

import (
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Block is the minimal shape the sync core needs of a block: enough to
// walk parent links and compare chain weight.
type Block struct {
	Number          int64
	Hash            chainhash.Hash
	ParentHash      chainhash.Hash
	TotalDifficulty *big.Int
}

// BlockWrapper decorates a Block with the provenance information gap
// recovery and freshness checks need: whether it was already sitting in
// the backlog (solid) versus just gossiped (new), and when it arrived.
type BlockWrapper struct {
	Block
	Solid      bool
	New        bool
	ReceivedAt time.Time
}

// IsSolidBlock reports whether the block was already queued as part of the
// download backlog, as opposed to freshly received over the wire.
func (w *BlockWrapper) IsSolidBlock() bool {
	return w.Solid
}

// IsNewBlock reports whether the block just arrived, as opposed to being
// pulled from the backlog.
func (w *BlockWrapper) IsNewBlock() bool {
	return w.New
}

// TimeSinceReceiving reports how long ago the block was received, used to
// decide whether a NEW block still falls inside the "fresh" window for
// notifyNewBlockImported.
func (w *BlockWrapper) TimeSinceReceiving() time.Duration {
	return time.Since(w.ReceivedAt)
}
