// Package main is the entry point for the backchat session server.
//
// main stays minimal: it builds the command tree and runs it. Configuration
// is read from the environment (and an optional .env file) by each command;
// all actual logic lives in the internal packages.
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
