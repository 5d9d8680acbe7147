package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
)

// RegisterBuiltins installs the engine's two built-in timer commands
// into r: TIMER schedules a TextInput event to re-enter the command
// pipeline after a delay, and DELTIMER removes a timer by id.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(timerCommand()); err != nil {
		return err
	}
	return r.Register(deltimerCommand())
}

func timerCommand() *Command {
	return &Command{
		Name:        "TIMER",
		Description: "It schedules a command to execute in the future",
		Usage:       "TIMER [-r] time-ms command...",
		NewFlags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("TIMER", pflag.ContinueOnError)
			fs.BoolP("recurring", "r", false, "fire on every period instead of once")
			return fs
		},
		Func: func(host Host, params ParamList, sync *dispatch.HandlerSync) {
			if params.ArgCount() < 2 {
				host.Say("You gotta give me a time and a command to execute.")
				return
			}
			periodMs, err := strconv.Atoi(params.Arg(0))
			if err != nil {
				host.Say("Sorry, but '%s' isn't a number of milliseconds.", params.Arg(0))
				return
			}
			if periodMs < 0 {
				host.Say("The time has to be zero or more milliseconds.")
				return
			}
			period := time.Duration(periodMs) * time.Millisecond
			cmdStr := strings.Join(params.Args()[1:], " ")
			args := event.StringArgs{Value: cmdStr}

			var id int16
			if params.HasOption("recurring") {
				id = host.AddTimer(period, event.TextInput, args)
			} else {
				id = host.Delay(period, event.TextInput, args)
			}

			plural := ""
			if periodMs != 1 {
				plural = "s"
			}
			kind := "in"
			if params.HasOption("recurring") {
				kind = "every"
			}
			host.Say("Okay, I will do that %s %d millisecond%s!", kind, periodMs, plural)
			host.Say("The timer ID is %d.", id)
		},
	}
}

func deltimerCommand() *Command {
	return &Command{
		Name:        "DELTIMER",
		Description: "It deletes a timer",
		Usage:       "DELTIMER timer-id",
		Func: func(host Host, params ParamList, sync *dispatch.HandlerSync) {
			if params.ArgCount() < 1 {
				host.Say("I need to know which timer I should delete.")
				return
			}
			id, err := strconv.Atoi(params.Arg(0))
			if err != nil {
				host.Say("Sorry, but '%s' isn't an integer.", params.Arg(0))
				return
			}
			if err := host.RemoveTimer(int16(id)); err != nil {
				host.Say("I couldn't delete timer %d: %v", id, err)
				return
			}
			host.Say("Okay! I stopped timer %d for you.", id)
		},
	}
}
