// Package command implements the agent's text-command registry: the
// table of named, flag-bearing commands a handler (most commonly the
// built-in text-input handler) dispatches user input into.
package command

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
)

// Host is the subset of the agent a command's Func may act on: speak
// back to the user and manage timers. Kept as an interface, the same
// way dispatch.TimerFirer decouples the dispatcher from timer.Table, so
// this package does not need to import agent (which imports command).
type Host interface {
	Say(format string, args ...any)
	Delay(d time.Duration, topic event.Topic, args event.Args) int16
	AddTimer(period time.Duration, topic event.Topic, args event.Args) int16
	RemoveTimer(id int16) error
}

// Func is the body of a command. sync is the HandlerSync of the
// handler that is running the command, passed through unused by most
// commands but available to ones that need to cooperate with
// preemption (the built-in TIMER/DELTIMER commands take one but
// ignore it).
type Func func(host Host, params ParamList, sync *dispatch.HandlerSync)

// ParamList is a parsed command invocation: positional arguments plus
// whichever flags the command declared.
type ParamList struct {
	args  []string
	flags *pflag.FlagSet
}

// ArgCount returns the number of positional arguments.
func (p ParamList) ArgCount() int { return len(p.args) }

// Arg returns the i'th positional argument, or "" if out of range.
func (p ParamList) Arg(i int) string {
	if i < 0 || i >= len(p.args) {
		return ""
	}
	return p.args[i]
}

// Args returns all positional arguments.
func (p ParamList) Args() []string { return p.args }

// HasOption reports whether the named boolean flag was set.
func (p ParamList) HasOption(name string) bool {
	if p.flags == nil {
		return false
	}
	f := p.flags.Lookup(name)
	return f != nil && f.Changed
}

// Command is one named entry in the registry: its name, help text, and
// the function invoked on dispatch. NewFlags, if non-nil, builds a
// fresh FlagSet for each Dispatch call (a factory rather than a stored
// FlagSet, so concurrent invocations of the same command never share a
// flag Value).
type Command struct {
	Name        string
	Description string
	Usage       string
	NewFlags    func() *pflag.FlagSet
	Func        Func
}

// ErrUnknownCommand is returned by Dispatch when no command with the
// given name is registered.
var ErrUnknownCommand = fmt.Errorf("no such command")

// ErrAlreadyRegistered is returned by Register for a duplicate name.
var ErrAlreadyRegistered = fmt.Errorf("command already registered")

// Registry is the live table of dispatchable commands, mutated at
// agent setup and by plugin enable/disable.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry returns an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds cmd under cmd.Name. Returns ErrAlreadyRegistered if
// that name is taken.
func (r *Registry) Register(cmd *Command) error {
	if cmd.NewFlags == nil {
		cmd.NewFlags = func() *pflag.FlagSet { return pflag.NewFlagSet(cmd.Name, pflag.ContinueOnError) }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Unregister removes name. It is a no-op if name is not registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// Lookup returns the command registered under name, if any.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns every registered command name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch parses raw against the named command's flag set and runs
// its Func. raw holds the argument tokens after the command name
// itself has already been split off by the caller.
func (r *Registry) Dispatch(name string, raw []string, host Host, sync *dispatch.HandlerSync) error {
	cmd, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	flags := cmd.NewFlags()
	if err := flags.Parse(raw); err != nil {
		return fmt.Errorf("parsing %s flags: %w", name, err)
	}
	cmd.Func(host, ParamList{args: flags.Args(), flags: flags}, sync)
	return nil
}
