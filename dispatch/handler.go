package dispatch

import (
	"sync"

	"github.com/fenmoor/agentcore/event"
	"github.com/fenmoor/agentcore/idgen"
)

// handlerContext is the dispatcher-side record of a live or suspended
// handler: its event, sync primitive, running flag, and the flag that
// transfers disposal responsibility to the worker goroutine itself when
// the dispatcher can't afford to wait for it ("handler completion
// protocol").
type handlerContext struct {
	id       string
	evt      event.Event
	fn       HandlerFunc
	sync     *HandlerSync
	mu       sync.Mutex
	running  bool
	reapSelf bool
	done     chan struct{}
}

func newHandlerContext(e event.Event, fn HandlerFunc) *handlerContext {
	return &handlerContext{
		id:   idgen.Default().Generate(),
		evt:  e,
		fn:   fn,
		sync: NewHandlerSync(),
		done: make(chan struct{}),
	}
}

func (c *handlerContext) setRunning(v bool) {
	c.mu.Lock()
	c.running = v
	c.mu.Unlock()
	if !v {
		close(c.done)
	}
}

func (c *handlerContext) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *handlerContext) setReapInHandler() {
	c.mu.Lock()
	c.reapSelf = true
	c.mu.Unlock()
}

func (c *handlerContext) reapInHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reapSelf
}

// spawn starts the worker goroutine that invokes fn with the handler's
// event and sync, then runs the completion protocol: the worker flips
// running to false and closes done. It does this whether or not the
// dispatcher marked the context for self-reaping; the worker releases
// nothing else, and the context is simply dropped by whoever still
// references it.
func (c *handlerContext) spawn(onPanic func(recovered any)) {
	c.running = true
	go func() {
		defer func() {
			if r := recover(); r != nil && onPanic != nil {
				onPanic(r)
			}
			c.setRunning(false)
		}()
		c.fn(c.evt, c.sync)
	}()
}
