// Command maestro runs the agent orchestration server: projects, tasks,
// sessions, and the per-session MCP tool surface, all in one process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro orchestrates multi-agent coding sessions",
	Long: `Maestro tracks projects, tasks, and the agent sessions working on
them, spawning worker and coordinator sessions with a scoped MCP tool
surface and a single WebSocket feed for UI clients.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
