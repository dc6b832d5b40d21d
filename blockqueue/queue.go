// Package blockqueue provides the concrete default implementation of the
// spec's BlockQueue/HashStore collaborator: a FIFO of hashes still to be
// fetched, and a backlog of downloaded-but-unimported blocks. The wire
// codec that turns bytes into blocks, and the validator that drains the
// solid backlog, both live outside this package.
package blockqueue

import (
	"container/list"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ke-chain/btcsync/blockchain"
)

// Queue is the default BlockQueue/HashStore implementation. It is
// deliberately simple: hashes and solid blocks each live in a
// container/list, guarded by one mutex, mirroring the way the teacher's
// netsync manager keeps its own header list.
type Queue struct {
	mu          sync.Mutex
	hashes      *list.List
	solidBlocks *list.List
	bestHash    chainhash.Hash
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		hashes:      list.New(),
		solidBlocks: list.New(),
	}
}

// IsHashesEmpty reports whether the hash-enumeration FIFO is empty.
func (q *Queue) IsHashesEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hashes.Len() == 0
}

// HasSolidBlocks reports whether the backlog of downloaded-but-unimported
// blocks is non-empty; addPeer uses this to decide whether an interrupted
// BLOCK_RETRIEVING run should resume rather than restarting hash retrieval.
func (q *Queue) HasSolidBlocks() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.solidBlocks.Len() > 0
}

// SetBestHash records the target hash the current hash-retrieval walk is
// working backward from.
func (q *Queue) SetBestHash(hash chainhash.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bestHash = hash
}

// BestHash returns the hash last recorded by SetBestHash.
func (q *Queue) BestHash() chainhash.Hash {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bestHash
}

// ClearHashStore empties the hash-enumeration FIFO, as required when a new
// master peer starts a fresh HASH_RETRIEVING walk.
func (q *Queue) ClearHashStore() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hashes.Init()
}

// AddFirstHash pushes a hash to the front of the FIFO, used by the
// small-gap path of recoverGap to force the immediate parent to be
// fetched next.
func (q *Queue) AddFirstHash(hash chainhash.Hash) {
	q.mu.Lock()
	q.hashes.PushFront(hash)
	n := q.hashes.Len()
	q.mu.Unlock()
	log.Debugf("hash store size after addFirst: %d", n)
}

// AddLast appends a hash to the back of the FIFO; used by the (out of
// scope) hash-retrieval protocol handler as it walks a peer's chain
// backward and enumerates hashes in order.
func (q *Queue) AddLast(hash chainhash.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hashes.PushBack(hash)
}

// TakeFirst pops and returns the hash at the front of the FIFO, if any.
func (q *Queue) TakeFirst() (chainhash.Hash, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.hashes.Front()
	if front == nil {
		return chainhash.Hash{}, false
	}
	q.hashes.Remove(front)
	return front.Value.(chainhash.Hash), true
}

// PushSolidBlock appends a downloaded block to the backlog awaiting
// import.
func (q *Queue) PushSolidBlock(wrapper *blockchain.BlockWrapper) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.solidBlocks.PushBack(wrapper)
}

// TakeSolidBlock pops the oldest backlog block, if any, for the (out of
// scope) validator to import.
func (q *Queue) TakeSolidBlock() (*blockchain.BlockWrapper, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.solidBlocks.Front()
	if front == nil {
		return nil, false
	}
	q.solidBlocks.Remove(front)
	return front.Value.(*blockchain.BlockWrapper), true
}

// Len reports the current hash-store depth, used by trace-level logging.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hashes.Len()
}
