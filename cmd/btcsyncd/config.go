package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/ke-chain/btcsync/netsync"
)

const (
	defaultLogDirname     = "logs"
	defaultLogFilename    = "btcsyncd.log"
	defaultDatabaseFile   = "sync.db"
	defaultDebugLevel     = "info"
	defaultSyncPeerCount  = 8
	defaultMaxHashesAsk   = 192
	defaultReadTimeout    = 30 * time.Second
	defaultDialedCacheCap = 5000
)

var (
	defaultHomeDir = btcutil.AppDataDir("btcsyncd", false)
	defaultLogDir  = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the command-line and config-file options btcsyncd
// accepts, converted once into netsync.Config so the sync core never
// imports go-flags itself.
type config struct {
	HomeDir     string        `short:"b" long:"homedir" description:"Directory to store data and logs"`
	LogDir      string        `long:"logdir" description:"Directory to log output"`
	DebugLevel  string        `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- Alternatively, level specifications of the form <subsystem>=<level>,<subsystem2>=<level2>,... can be used to set the log level for individual subsystems"`
	NoSync      bool          `long:"nosync" description:"Disable chain synchronization"`
	SyncPeers   int           `long:"syncpeers" description:"Target number of peers to keep synced against"`
	MaxHashesAsk int          `long:"maxhashesask" description:"Maximum number of hashes to request from the master peer per batch"`
	ReadTimeout time.Duration `long:"peerreadtimeout" description:"Read timeout applied to each peer connection by the transport"`
	DatabaseDir string        `long:"dbdir" description:"Directory to store the block and node discovery databases"`
}

// loadConfig proceeds the same way the teacher's own loadConfig did: start
// from sane defaults, then let command-line flags override them, then
// initialize log rotation before any logger is used.
func loadConfig() (*config, error) {
	cfg := config{
		HomeDir:      defaultHomeDir,
		LogDir:       defaultLogDir,
		DebugLevel:   defaultDebugLevel,
		SyncPeers:    defaultSyncPeerCount,
		MaxHashesAsk: defaultMaxHashesAsk,
		ReadTimeout:  defaultReadTimeout,
		DatabaseDir:  filepath.Join(defaultHomeDir, "data"),
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.DatabaseDir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if strings.Contains(cfg.DebugLevel, "=") {
		for _, spec := range strings.Split(cfg.DebugLevel, ",") {
			fields := strings.SplitN(spec, "=", 2)
			if len(fields) == 2 {
				setLogLevel(fields[0], fields[1])
			}
		}
	} else {
		setLogLevels(cfg.DebugLevel)
	}

	return &cfg, nil
}

// syncConfig converts the parsed flags into the immutable netsync.Config
// the sync core actually reads.
func (c *config) syncConfig() netsync.Config {
	return netsync.Config{
		IsSyncEnabled:          !c.NoSync,
		SyncPeerCount:          c.SyncPeers,
		MaxHashesAsk:           c.MaxHashesAsk,
		PeerChannelReadTimeout: c.ReadTimeout,
		DatabaseDir:            c.DatabaseDir,
	}
}
