// Package main is the entry point for the plexy binary.
//
// plexy is a dynamic multi-tunnel TCP reverse proxy. Invoked with one or
// more --tunnel flags (or --bundle), it runs the proxy daemon in the
// foreground until interrupted; its subcommands (dashboard, tunnel,
// bundle, diagnostics) talk to that running daemon or operate locally.
//
// The command tree is built in internal/cli. This file wires it together
// and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"github.com/relaymesh/plexy/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
