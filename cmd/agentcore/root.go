package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command when agentcore is called without any
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "agentcore",
	Short: "agentcore runs and drives modular agent runtime processes.",
	Long: `agentcore runs and drives modular agent runtime processes. ` +
		`"agentcore run" starts an agent in this process; "agentcore plugin" ` +
		`and "agentcore timer" drive the plugin manager and timer table of ` +
		`an already-running agent over its monitor HTTP API.`,
}

// monitorAddr is shared by every subcommand that talks to a running
// agent's monitor server instead of starting one of its own.
var monitorAddr string

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&monitorAddr, "monitor", "http://localhost:8080",
		"address of the target agent's monitor server")
}
