package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/fenmoor/agentcore/agent"
	"github.com/fenmoor/agentcore/config"
)

var runCmd = &cobra.Command{
	Use:   "run [config-file]",
	Short: "Start an agent and block until signaled.",
	Long: `Start an agent built from the given .env-style config file (or from ` +
		`process environment alone, if no file is given), and block until ` +
		`interrupted. SIGINT/SIGTERM trigger a clean Quit/Dispose.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	h, err := agent.Init(cfg)
	if err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}
	atexit.Register(func() {
		h.Quit()
		h.Dispose()
	})

	if addr := h.MonitorAddr(); addr != "" {
		fmt.Fprintf(os.Stderr, "agentcore: monitor listening at %s\n", addr)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	fmt.Fprintln(os.Stderr, "agentcore: shutting down")
	atexit.Exit(0)
	return nil
}
