package blockchain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	chainBucket = []byte("chain")
	bestKey     = []byte("best")
)

// Chain is the concrete Blockchain collaborator: it tracks the local best
// block well enough for netsync to compute total-difficulty watermarks and
// gap sizes, persisting it so a restart doesn't reset lowerUsefulDifficulty
// back to zero. It does not validate blocks or store the chain itself.
type Chain struct {
	mu   sync.RWMutex
	db   *bolt.DB
	best Block
}

// NewChain opens (creating if necessary) the boltdb file at dbPath and
// loads whatever best-block record was last persisted there.
func NewChain(dbPath string) (*Chain, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open chain database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(chainBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init chain bucket: %w", err)
	}

	c := &Chain{db: db, best: Block{TotalDifficulty: big.NewInt(0)}}
	if err := c.load(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Chain) load() error {
	return c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(chainBucket).Get(bestKey)
		if raw == nil {
			return nil
		}
		blk, err := decodeBlock(raw)
		if err != nil {
			return fmt.Errorf("decode persisted best block: %w", err)
		}
		c.best = blk
		return nil
	})
}

// BestBlock returns the last block SetBestBlock recorded.
func (c *Chain) BestBlock() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best
}

// TotalDifficulty returns the cumulative difficulty of the local best
// block, satisfying the Blockchain collaborator contract of spec §6.
func (c *Chain) TotalDifficulty() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.best.TotalDifficulty)
}

// BestBlockHash returns the hash of the local best block.
func (c *Chain) BestBlockHash() chainhash.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.best.Hash
}

// SetBestBlock records a new local best block. It is called by the (out of
// scope) validator once it imports a block, and is what ultimately backs
// notifyNewBlockImported's freshness comparisons.
func (c *Chain) SetBestBlock(b Block) error {
	if b.TotalDifficulty == nil {
		b.TotalDifficulty = big.NewInt(0)
	}
	c.mu.Lock()
	c.best = b
	c.mu.Unlock()

	raw := encodeBlock(b)
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainBucket).Put(bestKey, raw)
	}); err != nil {
		return err
	}
	log.Debugf("best block advanced to number %d, hash %s", b.Number, b.Hash)
	return nil
}

// Close releases the underlying database file.
func (c *Chain) Close() error {
	return c.db.Close()
}

func encodeBlock(b Block) []byte {
	diff := b.TotalDifficulty.Bytes()
	buf := make([]byte, 8+chainhash.HashSize*2+4+len(diff))
	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(b.Number))
	off += 8
	copy(buf[off:], b.Hash[:])
	off += chainhash.HashSize
	copy(buf[off:], b.ParentHash[:])
	off += chainhash.HashSize
	binary.BigEndian.PutUint32(buf[off:], uint32(len(diff)))
	off += 4
	copy(buf[off:], diff)
	return buf
}

func decodeBlock(raw []byte) (Block, error) {
	minLen := 8 + chainhash.HashSize*2 + 4
	if len(raw) < minLen {
		return Block{}, fmt.Errorf("truncated block record: %d bytes", len(raw))
	}
	var b Block
	off := 0
	b.Number = int64(binary.BigEndian.Uint64(raw[off:]))
	off += 8
	copy(b.Hash[:], raw[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	copy(b.ParentHash[:], raw[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	diffLen := int(binary.BigEndian.Uint32(raw[off:]))
	off += 4
	if len(raw) < off+diffLen {
		return Block{}, fmt.Errorf("truncated difficulty field: want %d have %d", diffLen, len(raw)-off)
	}
	b.TotalDifficulty = new(big.Int).SetBytes(raw[off : off+diffLen])
	return b, nil
}
