package netsync

import "github.com/btcsuite/btclog"

// log is the package-wide logger, disabled until UseLogger is called by
// whatever wires up the subsystem loggers (see cmd/btcsyncd/log.go).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package. It should
// be called before the package is used.
func UseLogger(logger btclog.Logger) {
	log = logger
}
