package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/ke-chain/btcsync/blockchain"
	"github.com/ke-chain/btcsync/blockqueue"
	"github.com/ke-chain/btcsync/discover"
	"github.com/ke-chain/btcsync/netsync"
)

// stdoutEventSink is the default netsync.EventSink: it just logs that sync
// completed. A real node would use this hook to lift RPC-readiness gates
// and start relaying transactions.
type stdoutEventSink struct{}

func (stdoutEventSink) OnSyncDone() {
	syncLog.Info("initial chain synchronization complete")
}

// loggingTransport is the default netsync.Transport. The actual dial,
// handshake, and wire codec live in the (out-of-scope) protocol layer;
// this only logs the connect intent so the sync core has something real
// to drive in the absence of that layer.
type loggingTransport struct{}

func (loggingTransport) Connect(node discover.Node) {
	syncLog.Debugf("transport: would dial node %s at %s", node.ID, node.Address)
}

// btcsyncdMain is the real main function for btcsyncd. It is factored out
// of main so deferred cleanup always runs, since main calls os.Exit on
// error and os.Exit skips deferred calls.
func btcsyncdMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	chain, err := blockchain.NewChain(filepath.Join(cfg.DatabaseDir, defaultDatabaseFile))
	if err != nil {
		return fmt.Errorf("open chain database: %w", err)
	}
	defer chain.Close()

	nodes, err := discover.NewNodeManager(filepath.Join(cfg.DatabaseDir, "nodes.db"), defaultDialedCacheCap)
	if err != nil {
		return fmt.Errorf("open node database: %w", err)
	}
	defer nodes.Close()

	queue := blockqueue.New()

	manager := netsync.New(cfg.syncConfig(), queue, chain, nodes, loggingTransport{}, stdoutEventSink{})
	if err := manager.Start(); err != nil {
		return fmt.Errorf("start sync manager: %w", err)
	}
	defer manager.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	syncLog.Info("btcsyncd started")
	<-interrupt
	syncLog.Info("btcsyncd shutting down")
	return nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())
	debug.SetGCPercent(10)

	if err := btcsyncdMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
