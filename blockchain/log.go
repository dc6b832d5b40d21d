package blockchain

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger. It must be called before any
// Chain is used if log output is desired.
func UseLogger(logger btclog.Logger) {
	log = logger
}
