// File: cmd/hioload-wsd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-wsd runs the WebSocket echo service and offers protocol helpers
// for poking at peers and captured bytes.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-wsengine/internal/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hioload-wsd",
		Short: "RFC 6455 WebSocket service and protocol tools",
		Long: `hioload-wsd serves WebSocket connections on top of the hioload engine.

The serve command runs the echo service with metrics, debug state and
optional frame capture. The remaining commands are small protocol helpers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		dialCmd(),
		browseCmd(),
		acceptKeyCmd(),
		decodeCmd(),
		versionCmd(),
	)

	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
