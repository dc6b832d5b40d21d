// Package peer provides the concrete PeerHandler collaborator from spec
// §6: the per-peer substate machine plus the handshake/progress snapshot
// SyncManager reads to drive it. The actual wire handshake and message
// codec that would fill in conn's read/write side live outside this
// package; Peer only tracks what they reported.
package peer

import (
	"math/big"
	"net"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/ke-chain/btcsync/wire"
)

// HandshakeStatus is the snapshot of a peer's reported total difficulty
// taken at handshake time, independent of whatever it has reported since.
type HandshakeStatus struct {
	TotalDifficulty *big.Int
}

// Disconnector is invoked by Peer.Disconnect to actually tear down the
// underlying connection; it is supplied by whatever owns the transport
// (out of scope here) when the Peer is constructed.
type Disconnector func(reason wire.ReasonCode)

// Peer is a concurrency-safe handle on one remote node's sync substate.
// Mutable fields are guarded by flagsMtx, following the teacher's
// convention of a small dedicated mutex around fields that change after
// construction; hashesLoadedCnt and maxHashesAsk are accessed atomically
// since the maintenance loop polls them far more often than anything else
// mutates them.
type Peer struct {
	peerID   string
	conn     net.Conn
	services wire.ServiceFlag

	flagsMtx        sync.Mutex
	totalDifficulty *big.Int
	bestHash        chainhash.Hash
	handshake       HandshakeStatus
	state           State
	noMoreBlocks    bool
	txProhibited    bool
	disconnected    bool

	hashesLoadedCnt int64
	maxHashesAsk    int32

	disconnect Disconnector
}

// New constructs a Peer for peerID, seeded with the total difficulty and
// best hash it reported during handshake.
func New(peerID string, conn net.Conn, services wire.ServiceFlag, totalDifficulty *big.Int, bestHash chainhash.Hash, disconnect Disconnector) *Peer {
	return &Peer{
		peerID:          peerID,
		conn:            conn,
		services:        services,
		totalDifficulty: new(big.Int).Set(totalDifficulty),
		bestHash:        bestHash,
		handshake:       HandshakeStatus{TotalDifficulty: new(big.Int).Set(totalDifficulty)},
		state:           Idle,
		disconnect:      disconnect,
	}
}

// PeerID returns the peer's stable hexadecimal identifier.
func (p *Peer) PeerID() string {
	return p.peerID
}

// Services returns the service flags the peer advertised during
// handshake.
func (p *Peer) Services() wire.ServiceFlag {
	return p.services
}

// TotalDifficulty returns the peer's most recently reported total
// difficulty.
//
// This function is safe for concurrent access.
func (p *Peer) TotalDifficulty() *big.Int {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return new(big.Int).Set(p.totalDifficulty)
}

// UpdateTotalDifficulty records a newer total difficulty report, distinct
// from the handshake snapshot which never changes after construction.
func (p *Peer) UpdateTotalDifficulty(td *big.Int) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.totalDifficulty = new(big.Int).Set(td)
}

// BestHash returns the peer's most recently reported chain tip.
func (p *Peer) BestHash() chainhash.Hash {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.bestHash
}

// UpdateBestHash records a newer chain tip report.
func (p *Peer) UpdateBestHash(hash chainhash.Hash) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.bestHash = hash
}

// HandshakeStatusMessage returns the total-difficulty snapshot taken at
// handshake time, used by checkPeers to raise lowerUsefulDifficulty when a
// peer that has run out of blocks is dropped.
func (p *Peer) HandshakeStatusMessage() HandshakeStatus {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return HandshakeStatus{TotalDifficulty: new(big.Int).Set(p.handshake.TotalDifficulty)}
}

// HashesLoadedCnt returns the monotonic count of hashes the peer has
// delivered so far during hash retrieval.
//
// This function is safe for concurrent access.
func (p *Peer) HashesLoadedCnt() int64 {
	return atomic.LoadInt64(&p.hashesLoadedCnt)
}

// AddHashesLoaded increments the loaded-hash counter; called by the (out
// of scope) protocol handler as batches of hashes arrive.
func (p *Peer) AddHashesLoaded(n int64) {
	atomic.AddInt64(&p.hashesLoadedCnt, n)
}

// SetMaxHashesAsk sets the per-request hash batch cap this peer should use
// for its next hash-retrieval requests.
//
// This function is safe for concurrent access.
func (p *Peer) SetMaxHashesAsk(n int) {
	atomic.StoreInt32(&p.maxHashesAsk, int32(n))
}

// MaxHashesAsk returns the cap set by SetMaxHashesAsk.
func (p *Peer) MaxHashesAsk() int {
	return int(atomic.LoadInt32(&p.maxHashesAsk))
}

// ChangeState transitions the peer's substate. It is always called by
// SyncManager; Peer never transitions itself.
func (p *Peer) ChangeState(s State) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	if s != p.state {
		log.Debugf("peer %s: %s -> %s", p.peerID, p.state, s)
		p.state = s
	}
}

// State returns the peer's current substate.
func (p *Peer) State() State {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.state
}

// IsIdle reports whether the peer is in the IDLE substate.
func (p *Peer) IsIdle() bool {
	return p.State() == Idle
}

// IsHashRetrieving reports whether the peer is currently enumerating
// hashes as master.
func (p *Peer) IsHashRetrieving() bool {
	return p.State() == HashRetrieving
}

// IsHashRetrievingDone reports whether the peer (as master) finished
// enumerating hashes back to a known ancestor.
func (p *Peer) IsHashRetrievingDone() bool {
	return p.State() == DoneHashes
}

// SetHashRetrievingDone is called by the (out of scope) protocol handler
// when the master's backward hash walk reaches a hash already known
// locally.
func (p *Peer) SetHashRetrievingDone() {
	p.ChangeState(DoneHashes)
}

// HasNoMoreBlocks reports whether the peer told us, during block
// retrieval, that it has nothing further to offer.
func (p *Peer) HasNoMoreBlocks() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.noMoreBlocks
}

// SetHasNoMoreBlocks records that the peer reported running out of
// blocks; checkPeers drops such peers on the next maintenance tick.
func (p *Peer) SetHasNoMoreBlocks(v bool) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.noMoreBlocks = v
}

// ProhibitTransactions stops the peer from being used to relay
// transactions until sync completes, per spec §4.3's addPeer contract.
func (p *Peer) ProhibitTransactions() {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.txProhibited = true
}

// TransactionsProhibited reports whether ProhibitTransactions has been
// called and not since lifted.
func (p *Peer) TransactionsProhibited() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.txProhibited
}

// AllowTransactions lifts a prior ProhibitTransactions, called once
// onSyncDone fires.
func (p *Peer) AllowTransactions() {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.txProhibited = false
}

// Disconnect asks the transport to drop this peer's connection for the
// given reason. It never blocks: the transport is expected to dispatch
// the teardown and return.
func (p *Peer) Disconnect(reason wire.ReasonCode) {
	log.Infof("peer %s: disconnecting, reason: %s", p.peerID, reason)
	if p.disconnect != nil {
		p.disconnect(reason)
	}
}

// OnDisconnect marks the peer as having actually disconnected, for
// idempotency in case the transport calls back more than once.
func (p *Peer) OnDisconnect() {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.disconnected = true
}

// Disconnected reports whether OnDisconnect has fired.
func (p *Peer) Disconnected() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.disconnected
}

// LogSyncStats writes a single info-level line summarizing this peer's
// sync progress, the per-peer half of SyncManager's 30-second stats tick.
func (p *Peer) LogSyncStats() {
	p.flagsMtx.Lock()
	state := p.state
	td := p.totalDifficulty
	p.flagsMtx.Unlock()
	log.Infof(
		"peer %s | state %s | total difficulty %s | hashes loaded %d",
		p.peerID, state, td, p.HashesLoadedCnt(),
	)
}
