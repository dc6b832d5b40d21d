package discover

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cevaris/ordered_map"
	"github.com/decred/dcrd/lru"
)

var nodeBucket = []byte("nodes")

// DiscoverListener is notified when a node starts or stops matching a
// predicate it registered with AddDiscoverListener. It is the sync core's
// only window into the discovery layer.
type DiscoverListener interface {
	NodeAppeared(h *NodeHandler)
	NodeDisappeared(h *NodeHandler)
}

// Predicate filters NodeStatistics for AddDiscoverListener subscriptions.
type Predicate func(NodeStatistics) bool

// NodePredicate filters NodeHandlers for GetNodes queries.
type NodePredicate func(*NodeHandler) bool

// NodeLess orders two NodeHandlers for GetNodes queries; it reports
// whether a should sort before b.
type NodeLess func(a, b *NodeHandler) bool

type listenerEntry struct {
	listener  DiscoverListener
	predicate Predicate
}

// NodeManager is the concrete NodeDiscovery collaborator from spec §6. It
// holds every node the (out of scope) discovery protocol has ever told it
// about, keeps a bounded memory of which ones were recently dialed, and
// persists the table so node reputation survives a restart.
type NodeManager struct {
	mu    sync.RWMutex
	nodes *ordered_map.OrderedMap

	dialed lru.Cache

	db *bolt.DB

	listenersMu sync.Mutex
	listeners   []listenerEntry
}

// NewNodeManager opens the node table's backing store at dbPath, loads
// whatever was last persisted, and returns a NodeManager ready to accept
// discovery callbacks and netsync queries. dialedCacheSize bounds how many
// recently-dialed node IDs are remembered before the oldest are evicted.
func NewNodeManager(dbPath string, dialedCacheSize uint) (*NodeManager, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open node database: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodeBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init node bucket: %w", err)
	}

	nm := &NodeManager{
		nodes:  ordered_map.NewOrderedMap(),
		dialed: lru.NewCache(dialedCacheSize),
		db:     db,
	}
	if err := nm.load(); err != nil {
		db.Close()
		return nil, err
	}
	return nm, nil
}

func (nm *NodeManager) load() error {
	return nm.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(nodeBucket)
		return b.ForEach(func(k, v []byte) error {
			h, err := decodeNodeHandler(string(k), v)
			if err != nil {
				return fmt.Errorf("decode persisted node %s: %w", string(k), err)
			}
			nm.nodes.Set(h.Node.ID, h)
			return nil
		})
	})
}

// Close releases the underlying database file.
func (nm *NodeManager) Close() error {
	return nm.db.Close()
}

// AddDiscoverListener registers a listener to be notified via NodeAppeared
// whenever NodeSeen reports a node whose statistics match predicate.
func (nm *NodeManager) AddDiscoverListener(listener DiscoverListener, predicate Predicate) {
	nm.listenersMu.Lock()
	defer nm.listenersMu.Unlock()
	nm.listeners = append(nm.listeners, listenerEntry{listener: listener, predicate: predicate})
}

// NodeSeen records (or updates) a node's statistics and fires
// NodeAppeared on every listener whose predicate matches. It is the
// discovery protocol's entry point into this package.
func (nm *NodeManager) NodeSeen(h *NodeHandler) {
	nm.mu.Lock()
	nm.nodes.Set(h.Node.ID, h)
	nm.mu.Unlock()

	if err := nm.persist(h); err != nil {
		log.Warnf("failed to persist node %s: %v", h.Node.ID, err)
	}

	nm.listenersMu.Lock()
	entries := append([]listenerEntry(nil), nm.listeners...)
	nm.listenersMu.Unlock()

	for _, e := range entries {
		if e.predicate(h.Statistics) {
			e.listener.NodeAppeared(h)
		}
	}
}

// NodeLost fires NodeDisappeared on every registered listener. Per spec
// §4.5, the sync core's own subscriber ignores this, but other listeners
// may not.
func (nm *NodeManager) NodeLost(h *NodeHandler) {
	nm.listenersMu.Lock()
	entries := append([]listenerEntry(nil), nm.listeners...)
	nm.listenersMu.Unlock()

	for _, e := range entries {
		e.listener.NodeDisappeared(h)
	}
}

// GetNodes returns up to limit nodes matching predicate, ordered by less.
// limit < 0 means unbounded. This is the exact shape askNewPeers' primary
// and fallback queries need.
func (nm *NodeManager) GetNodes(predicate NodePredicate, less NodeLess, limit int) []*NodeHandler {
	nm.mu.RLock()
	var matched []*NodeHandler
	iter := nm.nodes.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		h := kv.Value.(*NodeHandler)
		if predicate(h) {
			matched = append(matched, h)
		}
	}
	nm.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// MarkDialed reports whether id was already recently dialed, and records
// it as dialed either way. This is memory bookkeeping independent of the
// registry's timestamped connectAttempts: it just caps how many node IDs
// the discovery layer itself remembers trying.
func (nm *NodeManager) MarkDialed(id string) bool {
	already := nm.dialed.Contains(id)
	nm.dialed.Add(id)
	return already
}

func (nm *NodeManager) persist(h *NodeHandler) error {
	return nm.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(nodeBucket).Put([]byte(h.Node.ID), encodeNodeHandler(h))
	})
}

func encodeNodeHandler(h *NodeHandler) []byte {
	addr := []byte(h.Node.Address)
	var diff []byte
	hasStatus := byte(0)
	if h.Statistics.LastInboundStatus != nil {
		hasStatus = 1
		diff = h.Statistics.LastInboundStatus.TotalDifficulty.Bytes()
	}

	buf := make([]byte, 0, 4+len(addr)+4+1+4+len(diff)+4)
	buf = appendUint32Bytes(buf, addr)
	buf = appendInt32(buf, int32(h.Statistics.Reputation))
	buf = append(buf, hasStatus)
	buf = appendUint32Bytes(buf, diff)
	return buf
}

func decodeNodeHandler(id string, raw []byte) (*NodeHandler, error) {
	addr, rest, err := readUint32Bytes(raw)
	if err != nil {
		return nil, err
	}
	reputation, rest, err := readInt32(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, fmt.Errorf("truncated record")
	}
	hasStatus := rest[0]
	rest = rest[1:]
	diff, _, err := readUint32Bytes(rest)
	if err != nil {
		return nil, err
	}

	h := &NodeHandler{
		Node: Node{ID: id, Address: string(addr)},
		Statistics: NodeStatistics{
			Reputation: int(reputation),
		},
	}
	if hasStatus == 1 {
		h.Statistics.LastInboundStatus = &StatusMessage{TotalDifficulty: new(big.Int).SetBytes(diff)}
	}
	return h, nil
}

func appendUint32Bytes(buf, data []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, data...)
}

func readUint32Bytes(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(buf))
	if len(buf) < 4+n {
		return nil, nil, fmt.Errorf("truncated field: want %d have %d", n, len(buf)-4)
	}
	return buf[4 : 4+n], buf[4+n:], nil
}

func appendInt32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func readInt32(buf []byte) (int32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, fmt.Errorf("truncated int32")
	}
	return int32(binary.BigEndian.Uint32(buf)), buf[4:], nil
}
