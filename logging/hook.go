package logging

import "sync"

// HookPos names a site at which a Hookable invokes its registered hooks.
type HookPos struct {
	Name string
}

// Dispatcher hook positions.
var (
	HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &HookPos{Name: "AfterEvent"}
	HookPosTimerFired  = &HookPos{Name: "TimerFired"}
)

// HookCtx carries the information available at the site a hook fires.
type HookCtx struct {
	Pos    *HookPos
	Item   any
	Detail any
}

// Hook is a short piece of program invoked by a Hookable object.
type Hook interface {
	Func(ctx HookCtx)
}

// Hookable accepts Hooks. The dispatcher implements this (through
// HookableBase) so a caller can attach arbitrary instrumentation (audit logging,
// metrics, the EventLogger below) without the core loop knowing about
// any of them concretely.
type Hookable interface {
	AcceptHook(hook Hook)
}

// HookableBase provides the common bookkeeping for a Hookable.
type HookableBase struct {
	mu    sync.Mutex
	hooks []Hook
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

// InvokeHook runs every registered hook with ctx, in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.Lock()
	hooks := make([]Hook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}

// EventLogger is a Hook that writes a line to a Logger for every event
// observed at HookPosBeforeEvent.
type EventLogger struct {
	Log Logger
}

// Func implements Hook.
func (h *EventLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeEvent {
		return
	}
	h.Log.Debug("dispatching event: %v", ctx.Item)
}
