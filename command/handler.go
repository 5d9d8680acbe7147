package command

import (
	"strings"

	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
)

// TextInputHandler returns the dispatch.HandlerFunc that feeds
// event.TextInput events into r: the first whitespace-separated token is
// the command name, the rest are its raw arguments. An unknown command
// or a malformed payload is reported back through host.Say rather than
// treated as a dispatcher-level error.
func TextInputHandler(r *Registry, host Host) dispatch.HandlerFunc {
	return func(e event.Event, sync *dispatch.HandlerSync) {
		args, ok := e.Args.(event.StringArgs)
		if !ok {
			host.Say("I received text input I couldn't understand.")
			return
		}

		fields := strings.Fields(args.Value)
		if len(fields) == 0 {
			return
		}

		name := strings.ToUpper(fields[0])
		if err := r.Dispatch(name, fields[1:], host, sync); err != nil {
			host.Say("I don't know how to '%s'.", fields[0])
		}
	}
}
