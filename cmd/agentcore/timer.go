package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Drive the timer table of a running agent.",
}

var timerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed timers.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out []timerSnapshot
		if err := newMonitorClient(monitorAddr).get("/timers", &out); err != nil {
			return err
		}
		for _, t := range out {
			fmt.Printf("%d\t%s\tperiod=%dms\trecurring=%t\tnext=%s\n",
				t.ID, t.Topic, t.PeriodMS, t.Recurring, t.NextFire)
		}
		return nil
	},
}

var timerAddRecurring bool
var timerAddValue string

var timerAddCmd = &cobra.Command{
	Use:   "add <period-ms> <topic>",
	Short: "Install a timer.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		periodMS, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("period-ms must be an integer: %w", err)
		}

		req := struct {
			PeriodMS  int64  `json:"period_ms"`
			Topic     string `json:"topic"`
			Value     string `json:"value"`
			Recurring bool   `json:"recurring"`
		}{PeriodMS: periodMS, Topic: args[1], Value: timerAddValue, Recurring: timerAddRecurring}

		var out struct {
			ID int16 `json:"id"`
		}
		if err := newMonitorClient(monitorAddr).post("/timers", req, &out); err != nil {
			return err
		}
		fmt.Println(out.ID)
		return nil
	},
}

var timerRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a timer by id.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			ID string `json:"id"`
		}
		if err := newMonitorClient(monitorAddr).delete("/timers/"+args[0], &out); err != nil {
			return err
		}
		fmt.Println(out.ID)
		return nil
	},
}

type timerSnapshot struct {
	ID        int16  `json:"id"`
	Topic     string `json:"topic"`
	PeriodMS  int64  `json:"period_ms"`
	Recurring bool   `json:"recurring"`
	NextFire  string `json:"next_fire"`
}

func init() {
	rootCmd.AddCommand(timerCmd)
	timerCmd.AddCommand(timerListCmd)
	timerCmd.AddCommand(timerAddCmd)
	timerCmd.AddCommand(timerRemoveCmd)

	timerAddCmd.Flags().BoolVarP(&timerAddRecurring, "recurring", "r", false, "install a recurring timer instead of one-shot")
	timerAddCmd.Flags().StringVar(&timerAddValue, "value", "", "string payload delivered to the timer's topic handler")
}
