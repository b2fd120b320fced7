// Command storageenginectl is the operator-facing harness around the engine
// package: it is how a human runs recovery against a crashed data/log file
// pair, or inspects a page or log record from outside a test binary. The
// engine package itself never imports this command or any flag-parsing
// library — this is strictly the outer shell spec section 1 calls the
// "command-line harness", kept separate from the storage engine's own API.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
