// Package event defines the agent runtime's event type and the
// priority-ordered queue that the dispatcher polls.
package event

import "github.com/fenmoor/agentcore/idgen"

// Topic categorizes events; it is the handler-registry subscription key.
type Topic string

// TextInput is the one topic the core always defines; everything else is
// user- or plugin-defined.
const TextInput Topic = "TEXT_INPUT"

// Args is the opaque, deep-copyable payload carried by an Event or a Timer.
// Implementations must make Copy() produce a value independent of the
// receiver, since the dispatcher may fire the same timer's args many times.
type Args interface {
	Copy() Args
}

// StringArgs is the payload type used by the built-in TIMER/DELTIMER
// commands and by most simple handlers.
type StringArgs struct {
	Value string
}

// Copy returns a value-independent copy of the args.
func (a StringArgs) Copy() Args {
	return StringArgs{Value: a.Value}
}

// NoArgs is used for events that carry no payload.
type NoArgs struct{}

// Copy returns itself; NoArgs has no mutable state to copy.
func (NoArgs) Copy() Args { return NoArgs{} }

// DefaultPriority is the priority Generate assigns when the caller has no
// reason to ask for preemption.
const DefaultPriority uint8 = 0

// Event is an immutable message dispatched to the handler subscribed to
// its Topic. Higher Priority values preempt lower ones; equal priority
// never preempts.
type Event struct {
	ID       string
	Topic    Topic
	Priority uint8
	Args     Args
}

// New constructs an Event with a freshly generated id.
func New(topic Topic, priority uint8, args Args) Event {
	return Event{
		ID:       idgen.Default().Generate(),
		Topic:    topic,
		Priority: priority,
		Args:     args,
	}
}
