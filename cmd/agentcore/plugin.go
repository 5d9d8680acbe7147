package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Drive the plugin manager of a running agent.",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded plugins.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []pluginSnapshot
		if err := newMonitorClient(monitorAddr).get("/plugins", &out); err != nil {
			return err
		}
		for _, p := range out {
			fmt.Printf("%s\tv%s\tenabled=%t\n", p.ID, p.Version, p.Enabled)
		}
		return nil
	},
}

var pluginLoadCmd = &cobra.Command{
	Use:   "load <path>",
	Short: "Load a plugin shared object.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			ID string `json:"id"`
		}
		req := struct {
			Path string `json:"path"`
		}{Path: args[0]}
		if err := newMonitorClient(monitorAddr).post("/plugins/load", req, &out); err != nil {
			return err
		}
		fmt.Println(out.ID)
		return nil
	},
}

func pluginTransitionCmd(use, short, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ID string `json:"id"`
			}
			path := fmt.Sprintf("/plugins/%s/%s", args[0], verb)
			if err := newMonitorClient(monitorAddr).post(path, nil, &out); err != nil {
				return err
			}
			fmt.Println(out.ID)
			return nil
		},
	}
}

type pluginSnapshot struct {
	ID      string `json:"ID"`
	Version string `json:"Version"`
	Enabled bool   `json:"Enabled"`
}

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginLoadCmd)
	pluginCmd.AddCommand(pluginTransitionCmd("enable <id>", "Enable a loaded plugin.", "enable"))
	pluginCmd.AddCommand(pluginTransitionCmd("disable <id>", "Disable a loaded plugin.", "disable"))
	pluginCmd.AddCommand(pluginTransitionCmd("unload <id>", "Unload a plugin.", "unload"))
}
