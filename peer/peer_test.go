package peer

import (
	"math/big"
	"testing"

	"github.com/ke-chain/btcsync/wire"
)

func newTestPeer(recorded *wire.ReasonCode) *Peer {
	return New("p1", nil, 0, big.NewInt(100), [32]byte{}, func(r wire.ReasonCode) {
		if recorded != nil {
			*recorded = r
		}
	})
}

func TestNewPeerStartsIdle(t *testing.T) {
	p := newTestPeer(nil)
	if !p.IsIdle() {
		t.Fatalf("expected a freshly constructed peer to start IDLE")
	}
	if p.IsHashRetrieving() || p.IsHashRetrievingDone() {
		t.Fatalf("expected a freshly constructed peer not in any other substate")
	}
}

func TestHandshakeStatusSnapshotDoesNotTrackLaterUpdates(t *testing.T) {
	p := newTestPeer(nil)
	snapshot := p.HandshakeStatusMessage()
	if snapshot.TotalDifficulty.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected the handshake snapshot to reflect the constructor's difficulty")
	}

	p.UpdateTotalDifficulty(big.NewInt(9000))
	if got := p.TotalDifficulty(); got.Cmp(big.NewInt(9000)) != 0 {
		t.Fatalf("expected TotalDifficulty to reflect the update, got %s", got)
	}
	again := p.HandshakeStatusMessage()
	if again.TotalDifficulty.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected the handshake snapshot to remain frozen at construction time, got %s", again.TotalDifficulty)
	}
}

func TestChangeStateTransitions(t *testing.T) {
	p := newTestPeer(nil)
	p.ChangeState(HashRetrieving)
	if !p.IsHashRetrieving() {
		t.Fatalf("expected IsHashRetrieving true after ChangeState(HashRetrieving)")
	}
	p.SetHashRetrievingDone()
	if !p.IsHashRetrievingDone() {
		t.Fatalf("expected IsHashRetrievingDone true after SetHashRetrievingDone")
	}
}

func TestHasNoMoreBlocks(t *testing.T) {
	p := newTestPeer(nil)
	if p.HasNoMoreBlocks() {
		t.Fatalf("expected a fresh peer to report more blocks available")
	}
	p.SetHasNoMoreBlocks(true)
	if !p.HasNoMoreBlocks() {
		t.Fatalf("expected HasNoMoreBlocks true after SetHasNoMoreBlocks(true)")
	}
}

func TestProhibitAndAllowTransactions(t *testing.T) {
	p := newTestPeer(nil)
	if p.TransactionsProhibited() {
		t.Fatalf("expected a fresh peer to allow transactions")
	}
	p.ProhibitTransactions()
	if !p.TransactionsProhibited() {
		t.Fatalf("expected ProhibitTransactions to take effect")
	}
	p.AllowTransactions()
	if p.TransactionsProhibited() {
		t.Fatalf("expected AllowTransactions to lift the prohibition")
	}
}

func TestDisconnectInvokesCallbackWithReason(t *testing.T) {
	var got wire.ReasonCode
	p := newTestPeer(&got)
	p.Disconnect(wire.ReasonBadProtocol)
	if got != wire.ReasonBadProtocol {
		t.Fatalf("expected the disconnect callback invoked with the given reason, got %s", got)
	}
}

func TestOnDisconnectIsIdempotent(t *testing.T) {
	p := newTestPeer(nil)
	if p.Disconnected() {
		t.Fatalf("expected a fresh peer to not be marked disconnected")
	}
	p.OnDisconnect()
	p.OnDisconnect()
	if !p.Disconnected() {
		t.Fatalf("expected Disconnected true after OnDisconnect")
	}
}

func TestHashesLoadedCntAccumulates(t *testing.T) {
	p := newTestPeer(nil)
	p.AddHashesLoaded(10)
	p.AddHashesLoaded(5)
	if got := p.HashesLoadedCnt(); got != 15 {
		t.Fatalf("expected HashesLoadedCnt 15, got %d", got)
	}
}

func TestMaxHashesAskRoundTrip(t *testing.T) {
	p := newTestPeer(nil)
	p.SetMaxHashesAsk(192)
	if got := p.MaxHashesAsk(); got != 192 {
		t.Fatalf("expected MaxHashesAsk 192, got %d", got)
	}
}
