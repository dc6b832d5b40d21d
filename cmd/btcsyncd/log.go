package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/ke-chain/btcsync/blockchain"
	"github.com/ke-chain/btcsync/blockqueue"
	"github.com/ke-chain/btcsync/discover"
	"github.com/ke-chain/btcsync/netsync"
	"github.com/ke-chain/btcsync/peer"
)

// logWriter implements an io.Writer that outputs to both standard output
// and the rotating log file.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

var (
	// backendLog is the logging backend used to create all subsystem
	// loggers, fed by logWriter.
	backendLog = btclog.NewBackend(logWriter{})

	// logRotator pipes written data to a rotating log file.
	logRotator *rotator.Rotator

	syncLog = backendLog.Logger("SYNC")
	peerLog = backendLog.Logger("PEER")
	blcqLog = backendLog.Logger("BLCQ")
	chanLog = backendLog.Logger("CHAN")
	discLog = backendLog.Logger("DISC")
)

// subsystemLoggers maps each subsystem tag to its logger, used by
// setLogLevels and --debuglevel parsing.
var subsystemLoggers = map[string]btclog.Logger{
	"SYNC": syncLog,
	"PEER": peerLog,
	"BLCQ": blcqLog,
	"CHAN": chanLog,
	"DISC": discLog,
}

func init() {
	netsync.UseLogger(syncLog)
	peer.UseLogger(peerLog)
	blockqueue.UseLogger(blcqLog)
	blockchain.UseLogger(chanLog)
	discover.UseLogger(discLog)
}

// initLogRotator initializes the logging rotator to write logs to logFile
// and create roll files in the same directory. It must be called before
// the package-global log rotator variables are used.
func initLogRotator(logFile string) {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %v\n", err)
		os.Exit(1)
	}
	logRotator = r
}

// setLogLevel sets the logging level for the named subsystem, or every
// subsystem when subsystemID is "all".
func setLogLevel(subsystemID string, logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return
	}
	if subsystemID == "all" {
		setLogLevels(logLevel)
		return
	}
	if logger, ok := subsystemLoggers[subsystemID]; ok {
		logger.SetLevel(level)
	}
}

// setLogLevels sets the logging level for every registered subsystem.
func setLogLevels(logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
