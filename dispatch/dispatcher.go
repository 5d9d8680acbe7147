// Package dispatch implements the agent runtime's single-owner event
// dispatch loop (the EDT): priority preemption with a resume stack,
// bounded-resolution timer ticks, and the syscall-origin protocol that
// lets a handler request shutdown without deadlocking on itself.
package dispatch

import (
	"sync"
	"time"

	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/logging"
)

// TimerFirer is the subset of the timer table the dispatcher needs: fire
// due timers and return the events they produce. Kept as an interface so
// dispatch does not import timer directly (timer imports event, not
// dispatch; this keeps the dependency graph a DAG and the dispatcher
// testable with a fake timer source).
type TimerFirer interface {
	Fire(now time.Time) []event.Event
}

// Config bounds the dispatcher's idle sleep and timer tick resolution,
// configuration keys IDLE_SLEEP_TIME / TICK_RESOLUTION.
type Config struct {
	IdleSleep      time.Duration
	TickResolution time.Duration
}

// DefaultConfig returns the conservative default of 10ms for both
// bounds.
func DefaultConfig() Config {
	return Config{IdleSleep: 10 * time.Millisecond, TickResolution: 10 * time.Millisecond}
}

// Dispatcher is the single owning loop of an agent's event system. One
// Dispatcher serves exactly one agent; it must not be shared.
type Dispatcher struct {
	logging.HookableBase

	cfg      Config
	queue    *event.Queue
	registry *Registry
	timers   TimerFirer
	log      logging.Logger

	mu          sync.Mutex
	current     *handlerContext
	interrupted []*handlerContext // stack; index len-1 is top

	lastTick time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a Dispatcher bound to queue, registry, and a timer source.
// Call Run in its own goroutine to start the loop.
func New(cfg Config, queue *event.Queue, registry *Registry, timers TimerFirer, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewStdLogger()
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    queue,
		registry: registry,
		timers:   timers,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run executes the tick loop until Stop is called, then performs cleanup.
// It is meant to be run in its own goroutine; callers that need to know
// when cleanup has finished should select on Done().
func (d *Dispatcher) Run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cfg.IdleSleep)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			d.cleanup()
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// Done returns a channel that closes once Run's cleanup has completed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

// Stop requests that the dispatcher exit its loop and clean up; it does
// not wait for cleanup. A handler that shuts down its own agent and then
// waits for cleanup to finish (on Done, as agent.Handle.Quit does) must
// call sync.SetSyscallOrigin() on the *HandlerSync it was invoked with
// before calling Stop (the shutdown-origin rule), otherwise cleanup
// blocks forever waiting for the very goroutine that is waiting on it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// CurrentHandlerSync returns the HandlerSync of the handler currently
// installed as current, if any. A handler invoking Quit on its own agent
// uses the *HandlerSync passed to it directly and does not need this;
// it exists for callers (such as agent.Handle.CurrentHandlerSync) that need to inspect
// syscall-origin state without threading the sync through every call.
func (d *Dispatcher) CurrentHandlerSync() *HandlerSync {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.sync
}

// Push enqueues an event for dispatch. Safe to call from any goroutine,
// including from within a running handler.
func (d *Dispatcher) Push(e event.Event) {
	d.queue.Push(e)
}

// HandlerSnapshot describes one live or suspended handler context for
// external introspection.
type HandlerSnapshot struct {
	ID        string
	Topic     event.Topic
	Suspended bool
}

// Snapshot returns a point-in-time view of the current handler plus the
// interrupted stack, ordered most-recently-preempted first. Callers must
// not hold this across a blocking operation; it takes d.mu only long
// enough to copy the pointers out.
func (d *Dispatcher) Snapshot() []HandlerSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []HandlerSnapshot
	if d.current != nil {
		out = append(out, HandlerSnapshot{ID: d.current.id, Topic: d.current.evt.Topic})
	}
	for i := len(d.interrupted) - 1; i >= 0; i-- {
		ctx := d.interrupted[i]
		out = append(out, HandlerSnapshot{ID: ctx.id, Topic: ctx.evt.Topic, Suspended: true})
	}
	return out
}

// tick runs one pass of the loop: poll-and-decide/dispatch, reap, resume,
// then fire timers on tick boundary.
func (d *Dispatcher) tick() {
	d.pollAndDispatch()
	d.reap()
	d.resume()
	d.fireTimersIfDue()
}

func (d *Dispatcher) pollAndDispatch() {
	d.mu.Lock()
	curPriority := uint8(0)
	hasCurrent := d.current != nil
	if hasCurrent {
		curPriority = d.current.evt.Priority
	}
	d.mu.Unlock()

	e, ok := d.queue.PopIfDispatchable(curPriority, hasCurrent)
	if !ok {
		return
	}
	d.dispatch(e)
}

func (d *Dispatcher) dispatch(e event.Event) {
	d.mu.Lock()
	if d.current != nil {
		d.interruptLocked()
	}
	d.mu.Unlock()

	fn, ok := d.registry.Lookup(e.Topic)
	if !ok {
		d.log.Debug("dropping event %s (topic %s): no handler registered", e.ID, e.Topic)
		return
	}

	d.InvokeHook(logging.HookCtx{Pos: logging.HookPosBeforeEvent, Item: e})
	d.spawnHandler(e, fn)
}

// interruptLocked suspends the current handler and pushes it onto the
// interrupted stack. Caller must hold d.mu.
func (d *Dispatcher) interruptLocked() {
	cur := d.current
	d.current = nil
	d.mu.Unlock()
	cur.sync.RequestSuspend()
	cur.sync.WaitSuspended()
	d.mu.Lock()
	d.interrupted = append(d.interrupted, cur)
}

func (d *Dispatcher) spawnHandler(e event.Event, fn HandlerFunc) {
	ctx := newHandlerContext(e, fn)
	d.mu.Lock()
	d.current = ctx
	d.mu.Unlock()

	ctx.spawn(func(recovered any) {
		d.log.Error("handler for event %s panicked: %v", e.ID, recovered)
	})
}

// afterEvent fires HookPosAfterEvent once a handler's goroutine has
// actually finished. Dispatch here is asynchronous, so "after" fires
// from reap (or cleanup, for handlers disposed at shutdown) instead of
// immediately following dispatch.
func (d *Dispatcher) afterEvent(e event.Event) {
	d.InvokeHook(logging.HookCtx{Pos: logging.HookPosAfterEvent, Item: e})
}

func (d *Dispatcher) reap() {
	d.mu.Lock()
	cur := d.current
	if cur == nil || cur.isRunning() {
		d.mu.Unlock()
		return
	}
	d.current = nil
	d.mu.Unlock()
	d.disposeHandler(cur, false)
	d.afterEvent(cur.evt)
}

func (d *Dispatcher) resume() {
	d.mu.Lock()
	if d.current != nil || len(d.interrupted) == 0 {
		d.mu.Unlock()
		return
	}
	top := d.interrupted[len(d.interrupted)-1]
	d.interrupted = d.interrupted[:len(d.interrupted)-1]
	d.current = top
	d.mu.Unlock()
	top.sync.Resume()
}

func (d *Dispatcher) fireTimersIfDue() {
	if d.timers == nil {
		return
	}
	now := time.Now()
	if !d.lastTick.IsZero() && now.Sub(d.lastTick) < d.cfg.TickResolution {
		return
	}
	d.lastTick = now
	fired := d.timers.Fire(now)
	for _, e := range fired {
		d.InvokeHook(logging.HookCtx{Pos: logging.HookPosTimerFired, Item: e})
		d.queue.Push(e)
	}
}

// cleanup implements engine shutdown: dispose the current handler
// (waiting unless it is the syscall origin), drain the interrupted stack
// waiting on each, then drain and discard the queue. Timers are owned by
// the caller (agent.Handle), which disposes the timer table separately.
func (d *Dispatcher) cleanup() {
	d.mu.Lock()
	cur := d.current
	d.current = nil
	stack := d.interrupted
	d.interrupted = nil
	d.mu.Unlock()

	if cur != nil {
		wait := !cur.sync.IsSyscallOrigin()
		d.disposeHandler(cur, wait)
		if wait {
			d.afterEvent(cur.evt)
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		d.disposeHandler(stack[i], true)
		d.afterEvent(stack[i].evt)
	}

	drained := d.queue.Drain()
	if len(drained) > 0 {
		d.log.Debug("discarded %d queued event(s) at shutdown", len(drained))
	}
}

// disposeHandler disposes a suspended or finished handler: with wait=true it
// resumes a suspended handler if needed and blocks until it finishes;
// with wait=false it marks the context to self-reap and returns
// immediately, leaving the worker goroutine to clean up on its own exit.
func (d *Dispatcher) disposeHandler(ctx *handlerContext, wait bool) {
	if !ctx.isRunning() {
		return
	}
	if ctx.sync.IsSuspended() {
		ctx.sync.Resume()
	}
	if wait {
		<-ctx.done
		return
	}
	ctx.setReapInHandler()
}
