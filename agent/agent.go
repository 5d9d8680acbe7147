// Package agent composes the dispatcher, timer table, command registry,
// plugin manager, monitor, and audit log into the single embedding
// surface an application links against: Init creates a live agent,
// Quit/Dispose tear it down.
package agent

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fenmoor/agentcore/audit"
	"github.com/fenmoor/agentcore/command"
	"github.com/fenmoor/agentcore/config"
	"github.com/fenmoor/agentcore/dispatch"
	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/logging"
	"github.com/fenmoor/agentcore/monitor"
	"github.com/fenmoor/agentcore/plugin"
	"github.com/fenmoor/agentcore/timer"
)

// Status is one of the four lifecycle states a Handle passes through.
type Status int

// The four lifecycle states a Handle passes through.
const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopRequested
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusRunning:
		return "RUNNING"
	case StatusStopRequested:
		return "STOP_REQUESTED"
	case StatusStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotStopped is returned by Dispose when the handle has not been Quit
// first.
var ErrNotStopped = errors.New("agent: handle must be stopped before it can be disposed")

// ErrAlreadyDisposed is returned by Dispose when the handle has already
// been disposed. Other methods do not check for disposal.
var ErrAlreadyDisposed = errors.New("agent: handle already disposed")

// Handle is a single running (or stopped) agent: its dispatcher, timer
// table, command registry, plugin manager, and the optional monitor and
// audit log wired around them.
type Handle struct {
	mu       sync.Mutex
	status   Status
	disposed bool

	queue       *event.Queue
	registry    *dispatch.Registry
	timers      *timer.Table
	dispatcher  *dispatch.Dispatcher
	commands    *command.Registry
	plugins     *plugin.Manager
	audit       audit.Sink
	monitorAddr string

	log     logging.Logger
	speaker Speaker
}

// Init builds an agent from cfg (see package config) and starts its
// dispatcher goroutine. The returned Handle is in StatusRunning.
func Init(cfg *config.Section) (*Handle, error) {
	if cfg == nil {
		cfg = config.FromMap(nil)
	}

	log := logging.NewStdLogger()

	idleSleep, err := cfg.Duration("IDLE_SLEEP_TIME", time.Millisecond, 1, 1000, false, 10)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	idleMs := int(idleSleep / time.Millisecond)
	tickResolution, err := cfg.Duration("TICK_RESOLUTION", time.Millisecond, idleMs, 1000, false, 10)
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	h := &Handle{
		status:  StatusCreated,
		queue:   event.NewQueue(),
		log:     log,
		speaker: NewStdoutSpeaker(),
	}
	h.registry = dispatch.NewRegistry()
	h.timers = timer.NewTable()
	h.commands = command.NewRegistry()
	if err := command.RegisterBuiltins(h.commands); err != nil {
		return nil, fmt.Errorf("agent: registering builtin commands: %w", err)
	}
	h.registry.Subscribe(event.TextInput, command.TextInputHandler(h.commands, h))

	dispatchCfg := dispatch.Config{
		IdleSleep:      idleSleep,
		TickResolution: tickResolution,
	}
	h.dispatcher = dispatch.New(dispatchCfg, h.queue, h.registry, h.timers, log)

	sink, err := audit.New(cfg.GetOr("AUDIT_DB", ""))
	if err != nil {
		return nil, fmt.Errorf("agent: opening audit log: %w", err)
	}
	h.audit = sink

	h.plugins = plugin.NewManager(h, h.commands, log, sink)

	if dir := cfg.Sub("plugin").GetOr("DIR", ""); dir != "" {
		if err := h.plugins.Autoload(dir); err != nil {
			log.Warn("autoload of plugin directory %s failed: %v", dir, err)
		}
	}

	go h.dispatcher.Run()
	h.status = StatusRunning

	if addr := cfg.GetOr("MONITOR_ADDR", ""); addr != "" {
		if err := h.startMonitor(addr); err != nil {
			log.Warn("monitor did not start: %v", err)
		}
	}

	return h, nil
}

func (h *Handle) startMonitor(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parsing MONITOR_ADDR %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parsing MONITOR_ADDR port %q: %w", portStr, err)
	}

	mon := monitor.New(h.dispatcher, h.timers, h.plugins).WithPortNumber(port)
	bound, err := mon.StartServer()
	if err != nil {
		return err
	}
	h.monitorAddr = bound
	return nil
}

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Quit requests the dispatcher stop and blocks until its cleanup has
// finished. A handler that calls Quit on its own agent must have called
// sync.SetSyscallOrigin() on the *HandlerSync it was invoked with first,
// or cleanup will block waiting for that same handler's goroutine to
// finish. Idempotent past the first call.
func (h *Handle) Quit() error {
	h.mu.Lock()
	if h.status == StatusStopped || h.status == StatusStopRequested {
		h.mu.Unlock()
		return nil
	}
	h.status = StatusStopRequested
	h.mu.Unlock()

	h.dispatcher.Stop()
	<-h.dispatcher.Done()
	h.timers.Drain()

	h.mu.Lock()
	h.status = StatusStopped
	h.mu.Unlock()
	return nil
}

// Dispose releases resources held outside the dispatcher (the audit
// sink's database connection). It fails if the handle was never Quit.
func (h *Handle) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return ErrAlreadyDisposed
	}
	if h.status != StatusStopped {
		return ErrNotStopped
	}
	h.disposed = true
	if h.audit != nil {
		return h.audit.Close()
	}
	return nil
}

// Subscribe installs fn as the handler for topic, replacing any prior
// handler.
func (h *Handle) Subscribe(topic event.Topic, fn dispatch.HandlerFunc) {
	h.registry.Subscribe(topic, fn)
}

// Unsubscribe removes the handler for topic, if any.
func (h *Handle) Unsubscribe(topic event.Topic) {
	h.registry.Unsubscribe(topic)
}

// PushEvent enqueues e for dispatch.
func (h *Handle) PushEvent(e event.Event) {
	h.dispatcher.Push(e)
}

// Generate constructs an event at default priority and pushes it.
func (h *Handle) Generate(topic event.Topic, args event.Args) {
	h.dispatcher.Push(event.New(topic, event.DefaultPriority, args))
}

// Schedule installs a one-shot timer firing at the given absolute time.
func (h *Handle) Schedule(at time.Time, topic event.Topic, args event.Args) (int16, error) {
	return h.timers.Schedule(at, topic, args)
}

// Delay installs a one-shot timer firing period from now.
func (h *Handle) Delay(period time.Duration, topic event.Topic, args event.Args) int16 {
	return h.timers.Delay(period, topic, args)
}

// AddTimer installs a recurring timer firing every period, starting
// period from now.
func (h *Handle) AddTimer(period time.Duration, topic event.Topic, args event.Args) int16 {
	return h.timers.AddRecurring(period, topic, args)
}

// RemoveTimer removes a timer by id.
func (h *Handle) RemoveTimer(id int16) error {
	return h.timers.Remove(id)
}

// GetTimers returns every currently installed timer id.
func (h *Handle) GetTimers() []int16 {
	return h.timers.List()
}

// Say implements command.Host by delegating to the configured Speaker.
func (h *Handle) Say(format string, args ...any) {
	h.speaker.Say(format, args...)
}

// RegisterCommand implements plugin.Host.
func (h *Handle) RegisterCommand(cmd *command.Command) error {
	return h.commands.Register(cmd)
}

// Log implements plugin.Host.
func (h *Handle) Log() logging.Logger {
	return h.log
}

// CurrentHandlerSync exposes the dispatcher's current handler sync, for
// a handler that needs to mark itself as a shutdown's syscall origin
// without the dispatcher being threaded through separately.
func (h *Handle) CurrentHandlerSync() *dispatch.HandlerSync {
	return h.dispatcher.CurrentHandlerSync()
}

// Commands returns the agent's command registry, so an embedder can
// register application-specific commands alongside the builtins.
func (h *Handle) Commands() *command.Registry {
	return h.commands
}

// Plugins returns the agent's plugin manager.
func (h *Handle) Plugins() *plugin.Manager {
	return h.plugins
}

// MonitorAddr returns the address the monitor bound to, or "" if no
// monitor was started.
func (h *Handle) MonitorAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.monitorAddr
}

// WithSpeaker replaces the default stdout Speaker. Must be called before
// any handler or command runs Say.
func (h *Handle) WithSpeaker(s Speaker) *Handle {
	h.mu.Lock()
	h.speaker = s
	h.mu.Unlock()
	return h
}
