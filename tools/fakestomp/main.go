// Package main implements fakestomp, an in-memory STOMP broker for local and
// CI integration testing, plus a probe command that drives the client
// against any broker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fakestomp",
		Short: "Deterministic STOMP broker and client probe for testing",
		Long: `fakestomp runs an in-memory STOMP 1.0/1.1/1.2 broker over TCP and
WebSocket, and probes real brokers with the stomp client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fakestomp: %s\n", err)
		os.Exit(1)
	}
}
