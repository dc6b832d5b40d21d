package discover

import (
	"math/big"
	"path/filepath"
	"testing"
)

type recordingListener struct {
	appeared    []*NodeHandler
	disappeared []*NodeHandler
}

func (l *recordingListener) NodeAppeared(h *NodeHandler)    { l.appeared = append(l.appeared, h) }
func (l *recordingListener) NodeDisappeared(h *NodeHandler) { l.disappeared = append(l.disappeared, h) }

func openTestManager(t *testing.T) *NodeManager {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	nm, err := NewNodeManager(dbPath, 100)
	if err != nil {
		t.Fatalf("NewNodeManager: %v", err)
	}
	t.Cleanup(func() { nm.Close() })
	return nm
}

func TestNodeSeenFiresMatchingListenersOnly(t *testing.T) {
	nm := openTestManager(t)
	strong := &recordingListener{}
	weak := &recordingListener{}

	nm.AddDiscoverListener(strong, func(s NodeStatistics) bool {
		return s.LastInboundStatus != nil && s.LastInboundStatus.TotalDifficulty.Cmp(big.NewInt(1000)) > 0
	})
	nm.AddDiscoverListener(weak, func(s NodeStatistics) bool { return true })

	h := &NodeHandler{
		Node: Node{ID: "n1", Address: "10.0.0.1:8333"},
		Statistics: NodeStatistics{
			LastInboundStatus: &StatusMessage{TotalDifficulty: big.NewInt(500)},
		},
	}
	nm.NodeSeen(h)

	if len(strong.appeared) != 0 {
		t.Fatalf("expected the high-difficulty listener not to fire for a TD-500 node")
	}
	if len(weak.appeared) != 1 {
		t.Fatalf("expected the always-true listener to fire once")
	}
}

func TestNodeLostIgnoresPredicate(t *testing.T) {
	nm := openTestManager(t)
	l := &recordingListener{}
	nm.AddDiscoverListener(l, func(NodeStatistics) bool { return false })

	h := &NodeHandler{Node: Node{ID: "n1"}}
	nm.NodeLost(h)
	if len(l.disappeared) != 1 {
		t.Fatalf("expected NodeLost to notify every listener regardless of predicate")
	}
}

func TestGetNodesFiltersOrdersAndLimits(t *testing.T) {
	nm := openTestManager(t)
	nm.NodeSeen(&NodeHandler{Node: Node{ID: "a"}, Statistics: NodeStatistics{Reputation: 10}})
	nm.NodeSeen(&NodeHandler{Node: Node{ID: "b"}, Statistics: NodeStatistics{Reputation: 50}})
	nm.NodeSeen(&NodeHandler{Node: Node{ID: "c"}, Statistics: NodeStatistics{Reputation: 30}})

	got := nm.GetNodes(
		func(h *NodeHandler) bool { return h.Node.ID != "a" },
		func(a, b *NodeHandler) bool { return a.Statistics.Reputation > b.Statistics.Reputation },
		10,
	)
	if len(got) != 2 || got[0].Node.ID != "b" || got[1].Node.ID != "c" {
		t.Fatalf("expected [b, c] ordered by reputation descending, got %v", ids(got))
	}

	limited := nm.GetNodes(func(*NodeHandler) bool { return true }, func(a, b *NodeHandler) bool { return a.Node.ID < b.Node.ID }, 1)
	if len(limited) != 1 || limited[0].Node.ID != "a" {
		t.Fatalf("expected the limit respected, got %v", ids(limited))
	}
}

func ids(hs []*NodeHandler) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Node.ID
	}
	return out
}

func TestMarkDialedReportsPriorPresence(t *testing.T) {
	nm := openTestManager(t)
	if nm.MarkDialed("n1") {
		t.Fatalf("expected the first MarkDialed call to report not-already-dialed")
	}
	if !nm.MarkDialed("n1") {
		t.Fatalf("expected the second MarkDialed call to report already-dialed")
	}
}

func TestNodeManagerPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	nm, err := NewNodeManager(dbPath, 100)
	if err != nil {
		t.Fatalf("NewNodeManager: %v", err)
	}
	nm.NodeSeen(&NodeHandler{
		Node: Node{ID: "n1", Address: "10.0.0.1:8333"},
		Statistics: NodeStatistics{
			Reputation:        7,
			LastInboundStatus: &StatusMessage{TotalDifficulty: big.NewInt(4242)},
		},
	})
	if err := nm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewNodeManager(dbPath, 100)
	if err != nil {
		t.Fatalf("reopen NewNodeManager: %v", err)
	}
	defer reopened.Close()

	got := reopened.GetNodes(func(*NodeHandler) bool { return true }, func(a, b *NodeHandler) bool { return a.Node.ID < b.Node.ID }, -1)
	if len(got) != 1 || got[0].Node.ID != "n1" || got[0].Statistics.Reputation != 7 {
		t.Fatalf("expected the persisted node to survive a reopen, got %v", got)
	}
	if got[0].Statistics.LastInboundStatus == nil || got[0].Statistics.LastInboundStatus.TotalDifficulty.Cmp(big.NewInt(4242)) != 0 {
		t.Fatalf("expected the persisted status message to survive a reopen")
	}
}
