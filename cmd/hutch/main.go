package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - Session gateway for ephemeral preview environments",
	Long: `Hutch runs browser-accessible preview environments for web projects.
Each session is a sandboxed worker container running a dev server,
reachable through the gateway's reverse proxy with full HMR support.

Sessions are ephemeral: they die on idle timeout, on crash, or on
request, and nothing survives a gateway restart.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}
