package netsync

import (
	"testing"

	"github.com/ke-chain/btcsync/peer"
)

func TestPoolAddRemoveContains(t *testing.T) {
	p := NewPeerPool()
	a := newFakePeer("a", 10)
	b := newFakePeer("b", 20)

	p.Add(a)
	p.Add(b)
	if p.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", p.Len())
	}
	if !p.Contains(a) || !p.Contains(b) {
		t.Fatalf("expected both peers present")
	}

	if !p.Remove(a) {
		t.Fatalf("expected Remove to report success for a present peer")
	}
	if p.Contains(a) {
		t.Fatalf("expected a removed from the pool")
	}
	if p.Remove(a) {
		t.Fatalf("expected a second Remove of an absent peer to report false")
	}
}

func TestPoolSnapshotIsolatedFromMutation(t *testing.T) {
	p := NewPeerPool()
	a := newFakePeer("a", 10)
	p.Add(a)

	snap := p.Snapshot()
	p.Add(newFakePeer("b", 20))

	if len(snap) != 1 {
		t.Fatalf("expected the earlier snapshot unaffected by a later Add, got len %d", len(snap))
	}
	if p.Len() != 2 {
		t.Fatalf("expected the pool itself to reflect the Add, got %d", p.Len())
	}
}

func TestPoolRemoveIfReturnsRemoved(t *testing.T) {
	p := NewPeerPool()
	drained := newFakePeer("drained", 10)
	drained.noMoreBlocks = true
	active := newFakePeer("active", 20)
	p.Add(drained)
	p.Add(active)

	removed := p.RemoveIf(func(pr PeerHandler) bool { return pr.HasNoMoreBlocks() })
	if len(removed) != 1 || removed[0] != drained {
		t.Fatalf("expected only the drained peer removed, got %v", removed)
	}
	if p.Contains(drained) {
		t.Fatalf("expected the drained peer gone from the pool")
	}
	if !p.Contains(active) {
		t.Fatalf("expected the active peer to remain")
	}
}

func TestPoolMaxOnEmptyPool(t *testing.T) {
	p := NewPeerPool()
	best := p.Max(func(a, b PeerHandler) bool { return a.TotalDifficulty().Cmp(b.TotalDifficulty()) < 0 })
	if best != nil {
		t.Fatalf("expected Max on an empty pool to return nil")
	}
}

func TestPoolMaxSelectsGreatest(t *testing.T) {
	p := NewPeerPool()
	low := newFakePeer("low", 10)
	high := newFakePeer("high", 100)
	mid := newFakePeer("mid", 50)
	p.Add(low)
	p.Add(high)
	p.Add(mid)

	best := p.Max(func(a, b PeerHandler) bool { return a.TotalDifficulty().Cmp(b.TotalDifficulty()) < 0 })
	if best != high {
		t.Fatalf("expected the highest-difficulty peer selected, got %v", best)
	}
}

func TestPoolChangeStateAllAndIf(t *testing.T) {
	p := NewPeerPool()
	idlePeer := newFakePeer("idle", 10)
	busyPeer := newFakePeer("busy", 20)
	busyPeer.state = peer.HashRetrieving
	p.Add(idlePeer)
	p.Add(busyPeer)

	p.ChangeStateIf(peer.BlockRetrieving, func(pr PeerHandler) bool { return pr.IsIdle() })
	if idlePeer.state != peer.BlockRetrieving {
		t.Fatalf("expected the idle peer transitioned, got %s", idlePeer.state)
	}
	if busyPeer.state != peer.HashRetrieving {
		t.Fatalf("expected the busy peer untouched by ChangeStateIf, got %s", busyPeer.state)
	}

	p.ChangeStateAll(peer.DoneSync)
	if idlePeer.state != peer.DoneSync || busyPeer.state != peer.DoneSync {
		t.Fatalf("expected ChangeStateAll to touch every peer")
	}
}

func TestPoolPeerIDsAndContains(t *testing.T) {
	p := NewPeerPool()
	p.Add(newFakePeer("a", 10))
	p.Add(newFakePeer("b", 20))

	ids := p.PeerIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 peer IDs, got %d", len(ids))
	}
	if _, ok := ids["a"]; !ok {
		t.Fatalf("expected peer id a present")
	}
	if !p.PeerIDContains("a") {
		t.Fatalf("expected PeerIDContains true for a")
	}
	if p.PeerIDContains("missing") {
		t.Fatalf("expected PeerIDContains false for an absent id")
	}
}
