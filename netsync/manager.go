// Package netsync implements the chain-synchronization orchestrator: it
// elects a master peer, drives it through hash enumeration and block
// retrieval, recovers gaps discovered mid-sync, and manages the
// connection pool's population, timeouts and bans. It owns no wire codec
// and no storage of its own; everything it needs is expressed as the
// collaborator interfaces in interface.go.
package netsync

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"

	"github.com/ke-chain/btcsync/blockchain"
	"github.com/ke-chain/btcsync/discover"
	"github.com/ke-chain/btcsync/peer"
	"github.com/ke-chain/btcsync/wire"
)

const (
	// connectionTimeout is defined in registry.go alongside the registry
	// state it governs.

	// masterStuckTimeThreshold is how long a master may go without
	// delivering a hash before it is judged stuck and banned.
	masterStuckTimeThreshold = 60 * time.Second
	// largeGapThreshold is the gap size, in blocks, above which
	// recoverGap starts a dedicated GAP_RECOVERY hash walk instead of
	// just requesting the immediate parent.
	largeGapThreshold = 5
	// syncTick is the maintenance loop's period.
	syncTick = 3 * time.Second
	// statsTick is the stats-logging loop's period.
	statsTick = 30 * time.Second
	// similarityBand is the fraction used by isIn20PercentRange.
	similarityBand = 0.20
)

// SyncManager is the sync core described by spec §§3-5: it holds the
// active peer pool, the connection registry, and the global sync state,
// and drives all three forward on a fixed tick plus event callbacks from
// the transport and protocol handlers.
type SyncManager struct {
	cfg Config

	pool     *PeerPool
	registry *ConnectionRegistry
	queue    BlockQueue
	chain    Blockchain

	discovery    NodeDiscovery
	discoverySub *DiscoverySubscriber
	transport    Transport
	eventSink    EventSink

	// stateMu is the manager lock from spec §5: it serializes changeState
	// and addPeer's transition-deciding half. It is a distinct lock
	// domain from registry.mu and diffMu so that connection bookkeeping
	// and difficulty-watermark reads never block on a state transition,
	// and vice versa.
	stateMu   sync.Mutex
	state     SyncState
	prevState SyncState
	master    PeerHandler

	// Per-master bookkeeping, valid only while master != nil.
	lastHashesLoadedCnt int64
	masterStuckAt       time.Time

	// maxHashesAsk is the per-batch hash request cap runHashRetrievingOnMasterLocked
	// applies to whichever peer ends up elected master. It defaults to
	// cfg.MaxHashesAsk but recoverGap may lower it to the gap size for a
	// GAP_RECOVERY walk; it must be read by runHashRetrievingOnMasterLocked
	// rather than applied directly to a peer, since the master that
	// recoverGap observed is not necessarily the one changeState elects.
	maxHashesAsk int

	onSyncDoneTriggered bool

	// diffMu guards the two difficulty watermarks from spec §3.
	diffMu                sync.Mutex
	lowerUsefulDifficulty *big.Int
	highestKnownDifficulty *big.Int

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a SyncManager. Start must be called before it does
// anything.
func New(cfg Config, queue BlockQueue, chain Blockchain, discovery NodeDiscovery, transport Transport, eventSink EventSink) *SyncManager {
	m := &SyncManager{
		cfg:                    cfg,
		pool:                   NewPeerPool(),
		registry:               NewConnectionRegistry(),
		queue:                  queue,
		chain:                  chain,
		discovery:              discovery,
		transport:              transport,
		eventSink:              eventSink,
		state:                  StateInit,
		prevState:              StateInit,
		maxHashesAsk:           cfg.MaxHashesAsk,
		lowerUsefulDifficulty:  big.NewInt(0),
		highestKnownDifficulty: big.NewInt(0),
		quit:                   make(chan struct{}),
	}
	m.discoverySub = newDiscoverySubscriber(m)
	return m
}

// Start launches the maintenance and stats loops. It is a no-op, per spec
// §6, when the manager was configured with IsSyncEnabled false. Calling
// Start more than once is a no-op.
func (m *SyncManager) Start() error {
	if !m.cfg.IsSyncEnabled {
		log.Info("sync manager disabled by configuration")
		return nil
	}
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return nil
	}

	localTD := m.chain.TotalDifficulty()
	m.diffMu.Lock()
	m.lowerUsefulDifficulty = new(big.Int).Set(localTD)
	m.highestKnownDifficulty = new(big.Int).Set(localTD)
	m.diffMu.Unlock()

	m.discovery.AddDiscoverListener(m.discoverySub, m.discoverySubscriberPredicate)

	m.wg.Add(2)
	go m.maintenanceLoop()
	go m.statsLoop()
	log.Info("sync manager started")
	return nil
}

// Stop shuts down the maintenance and stats loops and blocks until both
// have exited. In-flight event-intake calls observe the stopped flag via
// their own atomic.LoadInt32(&m.started) check and become no-ops.
func (m *SyncManager) Stop() {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return
	}
	close(m.quit)
	m.wg.Wait()
	log.Info("sync manager stopped")
}

func (m *SyncManager) isRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

// maintenanceLoop runs the fixed-period tick described by spec §4.1. Each
// tick reuses a single timer reset only after the previous tick's work
// completes, so a slow tick never causes two ticks to overlap — the
// scheduleWithFixedDelay semantics spec §9 calls for.
func (m *SyncManager) maintenanceLoop() {
	defer m.wg.Done()
	timer := time.NewTimer(syncTick)
	defer timer.Stop()
	for {
		select {
		case <-m.quit:
			return
		case now := <-timer.C:
			m.tick(now)
			timer.Reset(syncTick)
		}
	}
}

// tick runs one maintenance pass, in the exact order spec §4.1 fixes:
// gap-recovery completion is noticed before the stuck-master check (so a
// legitimately-finished master is not banned), and the master check
// precedes the peer check (so a newly-lost master can be re-elected
// within the same tick).
func (m *SyncManager) tick(now time.Time) {
	m.updateDifficultyWatermarks()
	m.checkGapRecovery()
	m.checkMaster(now)
	m.checkPeers()
	m.registry.RemoveOutdatedConnections(now)
	m.askNewPeers()
	m.registry.ReleaseBans(now)

	if log.Level() <= btclog.LevelTrace {
		log.Tracef("pool snapshot: %s", spew.Sdump(m.pool.Snapshot()))
	}
}

// statsLoop periodically logs one line per peer plus the number of bans in
// effect, per spec §5's "optional single-thread stats worker".
func (m *SyncManager) statsLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(statsTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			for _, pr := range m.pool.Snapshot() {
				pr.LogSyncStats()
			}
			log.Infof("bans in effect: %d", m.registry.BanCount())
		}
	}
}

// updateDifficultyWatermarks raises both watermarks to the local chain's
// total difficulty; step 1 of the maintenance tick.
func (m *SyncManager) updateDifficultyWatermarks() {
	td := m.chain.TotalDifficulty()
	m.diffMu.Lock()
	defer m.diffMu.Unlock()
	if td.Cmp(m.lowerUsefulDifficulty) > 0 {
		m.lowerUsefulDifficulty = new(big.Int).Set(td)
	}
	if td.Cmp(m.highestKnownDifficulty) > 0 {
		m.highestKnownDifficulty = new(big.Int).Set(td)
	}
}

func (m *SyncManager) raiseLowerUsefulDifficulty(td *big.Int) {
	if td == nil {
		return
	}
	m.diffMu.Lock()
	defer m.diffMu.Unlock()
	if td.Cmp(m.lowerUsefulDifficulty) > 0 {
		m.lowerUsefulDifficulty = new(big.Int).Set(td)
	}
}

func (m *SyncManager) raiseHighestKnownDifficulty(td *big.Int) {
	if td == nil {
		return
	}
	m.diffMu.Lock()
	defer m.diffMu.Unlock()
	if td.Cmp(m.highestKnownDifficulty) > 0 {
		m.highestKnownDifficulty = new(big.Int).Set(td)
	}
}

func (m *SyncManager) getLowerUsefulDifficulty() *big.Int {
	m.diffMu.Lock()
	defer m.diffMu.Unlock()
	return new(big.Int).Set(m.lowerUsefulDifficulty)
}

func (m *SyncManager) getHighestKnownDifficulty() *big.Int {
	m.diffMu.Lock()
	defer m.diffMu.Unlock()
	return new(big.Int).Set(m.highestKnownDifficulty)
}

func (m *SyncManager) currentState() SyncState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// isIn20PercentRange reports whether a and b are within the
// similarityBand of one another, relative to whichever is larger — spec
// §4.4/§4.5's `|a-b|/max(a,b) <= 0.20` similarity test.
func isIn20PercentRange(a, b *big.Int) bool {
	if a.Sign() == 0 && b.Sign() == 0 {
		return true
	}
	maxV := a
	if b.CmpAbs(a) > 0 {
		maxV = b
	}
	if maxV.Sign() == 0 {
		return true
	}
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	// diff/maxV <= band  <=>  diff*1000 <= maxV*(band*1000)
	bandScaled := big.NewInt(int64(similarityBand * 1000))
	lhs := new(big.Int).Mul(diff, big.NewInt(1000))
	rhs := new(big.Int).Mul(maxV, bandScaled)
	return lhs.Cmp(rhs) <= 0
}

// changeState is the single chokepoint through which the global sync
// state ever advances, per spec §4.2. Its per-destination action always
// runs, even when newState equals the current state — addPeer's
// re-election path and checkPeers' "re-enter the same state" path both
// rely on changeState(HASH_RETRIEVING) re-running master selection when
// already in HASH_RETRIEVING. Only the prevState/state bookkeeping is
// conditional on the state actually differing. With an empty pool, a
// transition to HASH_RETRIEVING or GAP_RECOVERY is a no-op: neither the
// action nor the bookkeeping runs.
func (m *SyncManager) changeState(s SyncState) {
	m.stateMu.Lock()
	old := m.state

	if (s == StateHashRetrieving || s == StateGapRecovery) && m.pool.Len() == 0 {
		m.stateMu.Unlock()
		return
	}

	switch s {
	case StateHashRetrieving:
		m.enterHashRetrievingLocked()
	case StateGapRecovery:
		m.enterGapRecoveryLocked()
	case StateBlockRetrieving:
		m.stateMu.Unlock()
		m.pool.ChangeStateAll(peer.BlockRetrieving)
		m.stateMu.Lock()
	case StateDoneGapRecovery:
		m.stateMu.Unlock()
		m.pool.ChangeStateAll(peer.BlockRetrieving)
		m.stateMu.Lock()
	case StateDoneSync:
		if !m.onSyncDoneTriggered {
			m.onSyncDoneTriggered = true
			m.stateMu.Unlock()
			for _, pr := range m.pool.Snapshot() {
				pr.ChangeState(peer.DoneSync)
				pr.AllowTransactions()
			}
			if m.eventSink != nil {
				m.eventSink.OnSyncDone()
			}
			m.stateMu.Lock()
		}
	}

	if s != old {
		m.prevState = old
		m.state = s
		log.Debugf("sync state: %s -> %s", old, s)
	}
	m.stateMu.Unlock()
}

// enterHashRetrievingLocked runs the → HASH_RETRIEVING action of spec
// §4.2. Callers must hold stateMu. A no-op on an empty pool, per
// invariant 6.
func (m *SyncManager) enterHashRetrievingLocked() {
	best := m.pool.Max(func(a, b PeerHandler) bool {
		return a.TotalDifficulty().Cmp(b.TotalDifficulty()) < 0
	})
	if best == nil {
		return
	}
	m.master = best
	m.raiseHighestKnownDifficulty(best.TotalDifficulty())
	m.queue.SetBestHash(best.BestHash())
	m.queue.ClearHashStore()
	m.pool.ChangeStateAll(peer.Idle)
	m.maxHashesAsk = m.cfg.MaxHashesAsk
	m.runHashRetrievingOnMasterLocked(best)
}

// enterGapRecoveryLocked runs the → GAP_RECOVERY action of spec §4.2. The
// queue's best hash was already set by recoverGap; maxHashesAsk was
// already capped to the gap size by recoverGap and is applied here, to
// whichever peer this (re-)election actually picks, by
// runHashRetrievingOnMasterLocked — not to the peer recoverGap happened
// to observe, since that peer is not necessarily the one elected here.
func (m *SyncManager) enterGapRecoveryLocked() {
	best := m.pool.Max(func(a, b PeerHandler) bool {
		return a.TotalDifficulty().Cmp(b.TotalDifficulty()) < 0
	})
	if best == nil {
		return
	}
	m.master = best
	m.runHashRetrievingOnMasterLocked(best)
}

// runHashRetrievingOnMasterLocked is spec §4.2's `hashRetrievingOnMaster`
// helper: it resets the per-master stuck-detection bookkeeping, applies
// the current maxHashesAsk cap to master, and pushes master into its
// HASH_RETRIEVING substate. Callers must hold stateMu.
func (m *SyncManager) runHashRetrievingOnMasterLocked(master PeerHandler) {
	master.SetMaxHashesAsk(m.maxHashesAsk)
	m.lastHashesLoadedCnt = 0
	m.masterStuckAt = time.Time{}
	master.ChangeState(peer.HashRetrieving)
}

// checkGapRecovery is maintenance-tick step 2: once a gap-recovery walk's
// master finishes and the hash store has drained, fall back to whichever
// state gap recovery interrupted.
func (m *SyncManager) checkGapRecovery() {
	m.stateMu.Lock()
	state := m.state
	prev := m.prevState
	master := m.master
	m.stateMu.Unlock()

	if state != StateGapRecovery || master == nil {
		return
	}
	if master.IsHashRetrieving() || !m.queue.IsHashesEmpty() {
		return
	}
	if prev == StateBlockRetrieving {
		m.changeState(StateBlockRetrieving)
	} else {
		m.changeState(StateDoneGapRecovery)
	}
}

// checkMaster is maintenance-tick step 3: it notices hash-retrieval
// completion before checking for a stuck master, and bans/disconnects a
// master that has made no progress for masterStuckTimeThreshold.
func (m *SyncManager) checkMaster(now time.Time) {
	m.stateMu.Lock()
	state := m.state
	master := m.master
	m.stateMu.Unlock()

	if master == nil {
		return
	}

	// (a) hash-retrieving-done transitions.
	if state == StateHashRetrieving && master.IsHashRetrievingDone() {
		m.changeState(StateBlockRetrieving)
		return
	}
	if state == StateGapRecovery && master.IsHashRetrievingDone() {
		master.ChangeState(peer.BlockRetrieving)
		return
	}

	// (b) stuck detection, only while actively hash-retrieving.
	if state != StateHashRetrieving && state != StateGapRecovery {
		return
	}
	if !master.IsHashRetrieving() {
		return
	}

	m.stateMu.Lock()
	loaded := master.HashesLoadedCnt()
	if loaded > m.lastHashesLoadedCnt {
		m.lastHashesLoadedCnt = loaded
		m.masterStuckAt = time.Time{}
		m.stateMu.Unlock()
		return
	}
	if m.masterStuckAt.IsZero() {
		m.masterStuckAt = now
		m.stateMu.Unlock()
		return
	}
	stuckFor := now.Sub(m.masterStuckAt)
	m.stateMu.Unlock()

	if stuckFor <= masterStuckTimeThreshold {
		return
	}
	log.Warnf("peer %s: master stuck for %s, banning", master.PeerID(), stuckFor)
	m.registry.Ban(master.PeerID(), now)
	master.Disconnect(wire.ReasonUselessPeer)
}

// checkPeers is maintenance-tick step 4: it drops exhausted peers,
// re-elects a lost master, and resumes idle peers once there is more
// work queued for them.
func (m *SyncManager) checkPeers() {
	drained := m.pool.RemoveIf(func(pr PeerHandler) bool {
		return pr.HasNoMoreBlocks()
	})
	for _, pr := range drained {
		pr.ChangeState(peer.Idle)
		m.raiseLowerUsefulDifficulty(pr.HandshakeStatusMessage().TotalDifficulty)
		log.Infof("peer %s: dropped, no more blocks", pr.PeerID())
	}

	m.stateMu.Lock()
	state := m.state
	master := m.master
	masterLost := master != nil && (state == StateHashRetrieving || state == StateGapRecovery) && !m.pool.Contains(master)
	m.stateMu.Unlock()
	if masterLost {
		log.Infof("peer %s: master lost from pool, re-electing", master.PeerID())
		m.changeState(state)
	}

	if state == StateBlockRetrieving || state == StateDoneSync || state == StateDoneGapRecovery {
		if !m.queue.IsHashesEmpty() {
			m.pool.ChangeStateIf(peer.BlockRetrieving, func(pr PeerHandler) bool {
				return pr.IsIdle()
			})
		}
	}
}

// askNewPeers is maintenance-tick step 6, per spec §4.4.
func (m *SyncManager) askNewPeers() {
	lack := m.cfg.SyncPeerCount - m.pool.Len()
	if lack <= 0 {
		return
	}
	inUse := m.registry.InUse(m.pool.PeerIDs())
	watermark := m.getLowerUsefulDifficulty()

	primary := func(h *discover.NodeHandler) bool {
		if _, used := inUse[h.Node.ID]; used {
			return false
		}
		if !h.HasStatusMessage() {
			return false
		}
		return h.TotalDifficulty().Cmp(watermark) > 0
	}
	byDifficultyDesc := func(a, b *discover.NodeHandler) bool {
		return a.TotalDifficulty().Cmp(b.TotalDifficulty()) > 0
	}

	candidates := m.discovery.GetNodes(primary, byDifficultyDesc, lack)
	if len(candidates) == 0 && m.pool.Len() == 0 {
		fallback := func(h *discover.NodeHandler) bool {
			_, used := inUse[h.Node.ID]
			return !used && h.HasStatusMessage()
		}
		byReputationDesc := func(a, b *discover.NodeHandler) bool {
			return a.Statistics.Reputation > b.Statistics.Reputation
		}
		candidates = m.discovery.GetNodes(fallback, byReputationDesc, lack)
	}

	if log.Level() <= btclog.LevelTrace {
		log.Tracef("candidate nodes: %s", spew.Sdump(candidates))
	}
	for _, h := range candidates {
		m.initiateConnection(h)
	}
}

// discoverySubscriberPredicate is the predicate DiscoverySubscriber
// registers, per spec §4.5: a node qualifies for an immediate connect
// attempt only once its reported difficulty is substantially better than
// what is already known, not merely within the similarity band of it.
func (m *SyncManager) discoverySubscriberPredicate(stats discover.NodeStatistics) bool {
	if stats.LastInboundStatus == nil {
		return false
	}
	return !isIn20PercentRange(stats.LastInboundStatus.TotalDifficulty, m.getHighestKnownDifficulty())
}

// initiateConnection is spec §4.6: under the registry, reject a node
// that's already a peer or already has an outstanding connect attempt,
// else dispatch a non-blocking connect and record the attempt.
func (m *SyncManager) initiateConnection(h *discover.NodeHandler) {
	id := h.Node.ID
	if m.pool.PeerIDContains(id) || m.registry.IsConnecting(id) || m.registry.IsBanned(id) {
		return
	}
	m.registry.RecordConnectAttempt(id, time.Now())
	log.Debugf("peer %s: initiating connection", id)
	m.transport.Connect(discover.Node{ID: id, Address: h.Node.Address})
}

// AddPeer is spec §4.3's addPeer: it rejects underqualified peers
// outright, admits the rest into the pool, and then decides whether the
// admission should kick off or redirect the global state machine.
func (m *SyncManager) AddPeer(pr PeerHandler) {
	if !m.isRunning() {
		return
	}
	m.registry.ClearConnectAttempt(pr.PeerID())

	if pr.TotalDifficulty().Cmp(m.getLowerUsefulDifficulty()) < 0 {
		log.Debugf("peer %s: rejected, total difficulty below watermark", pr.PeerID())
		return
	}

	m.pool.Add(pr)
	m.stateMu.Lock()
	triggered := m.onSyncDoneTriggered
	m.stateMu.Unlock()
	if !triggered {
		pr.ProhibitTransactions()
	}
	log.Infof("peer %s: joined pool, total difficulty %s", pr.PeerID(), pr.TotalDifficulty())

	state := m.currentState()
	switch state {
	case StateInit:
		if m.queue.HasSolidBlocks() {
			m.changeState(StateBlockRetrieving)
		} else if pr.TotalDifficulty().Cmp(m.getHighestKnownDifficulty()) > 0 {
			m.changeState(StateHashRetrieving)
		}
	case StateHashRetrieving:
		if !isIn20PercentRange(pr.TotalDifficulty(), m.getHighestKnownDifficulty()) {
			m.changeState(StateHashRetrieving)
		}
	}
}

// OnDisconnect is spec §4.3's onDisconnect: remove pr from the pool and
// from any in-flight connect attempt, and ban it once its disconnect-hit
// counter crosses the threshold.
func (m *SyncManager) OnDisconnect(pr PeerHandler) {
	if !m.isRunning() {
		return
	}
	pr.OnDisconnect()
	m.pool.Remove(pr)

	if m.registry.RegisterDisconnect(pr.PeerID()) {
		log.Warnf("peer %s: exceeded disconnect-hit threshold, banning", pr.PeerID())
		m.registry.Ban(pr.PeerID(), time.Now())
	}
}

// RecoverGap is spec §4.3's recoverGap, called when the (out-of-scope)
// validator detects wrapper's parent is unknown locally. localBest is the
// local chain's best block at the time of detection.
func (m *SyncManager) RecoverGap(pr PeerHandler, wrapper *blockchain.BlockWrapper, localBest blockchain.Block) {
	if !m.isRunning() {
		return
	}
	state := m.currentState()
	if state == StateGapRecovery {
		return
	}

	if wrapper.Solid {
		if state == StateInit || state == StateHashRetrieving {
			return
		}
	} else if wrapper.New {
		validNew := (state == StateBlockRetrieving && m.queue.IsHashesEmpty()) ||
			state == StateDoneSync || state == StateDoneGapRecovery
		if !validNew {
			return
		}
	}

	gap := int(wrapper.Number - localBest.Number)
	if gap > largeGapThreshold {
		maxAsk := gap
		if m.cfg.MaxHashesAsk < maxAsk {
			maxAsk = m.cfg.MaxHashesAsk
		}
		m.stateMu.Lock()
		m.maxHashesAsk = maxAsk
		m.stateMu.Unlock()
		m.queue.SetBestHash(wrapper.Hash)
		log.Infof("peer %s: gap of %d blocks, starting gap recovery", pr.PeerID(), gap)
		m.changeState(StateGapRecovery)
		return
	}

	m.queue.AddFirstHash(wrapper.ParentHash)
	log.Debugf("peer %s: small gap (%d), requesting immediate parent", pr.PeerID(), gap)
}

// NotifyNewBlockImported is spec §4.3's notifyNewBlockImported. fresh
// reports whether wrapper extended the tip rather than draining the solid
// backlog.
func (m *SyncManager) NotifyNewBlockImported(wrapper *blockchain.BlockWrapper, fresh bool) {
	if !m.isRunning() {
		return
	}
	switch m.currentState() {
	case StateDoneSync, StateGapRecovery, StateDoneGapRecovery:
		return
	}
	if fresh {
		m.changeState(StateDoneSync)
		return
	}
	log.Debugf("block %s imported outside freshness window", wrapperHash(wrapper))
}

func wrapperHash(w *blockchain.BlockWrapper) chainhash.Hash {
	if w == nil {
		return chainhash.Hash{}
	}
	return w.Hash
}
