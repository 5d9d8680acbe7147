package dispatch

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fenmoor/agentcore/event"
)

// noTimers is a TimerFirer that never produces events; used by tests that
// only exercise the event-dispatch half of the loop.
type noTimers struct{}

func (noTimers) Fire(now time.Time) []event.Event { return nil }

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(s string) {
	l.mu.Lock()
	l.ops = append(l.ops, s)
	l.mu.Unlock()
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ops))
	copy(out, l.ops)
	return out
}

func newTestDispatcher() (*Dispatcher, *event.Queue, *Registry) {
	q := event.NewQueue()
	r := NewRegistry()
	d := New(Config{IdleSleep: time.Millisecond, TickResolution: time.Millisecond}, q, r, noTimers{}, nil)
	return d, q, r
}

var _ = Describe("Dispatcher", func() {
	var (
		d *Dispatcher
		r *Registry
	)

	BeforeEach(func() {
		d, _, r = newTestDispatcher()
		go d.Run()
	})

	AfterEach(func() {
		d.Stop()
		Eventually(d.Done(), time.Second).Should(BeClosed())
	})

	It("delivers equal-priority events in FIFO order", func() {
		log := &opLog{}
		const topic = event.Topic("A")
		r.Subscribe(topic, func(e event.Event, sync *HandlerSync) {
			log.add(e.Args.(event.StringArgs).Value)
		})

		d.Push(event.New(topic, 3, event.StringArgs{Value: "x"}))
		d.Push(event.New(topic, 3, event.StringArgs{Value: "y"}))

		Eventually(func() []string { return log.snapshot() }, time.Second).
			Should(Equal([]string{"x", "y"}))
	})

	It("preempts a lower-priority handler and resumes it after the higher one finishes", func() {
		log := &opLog{}
		const low, high = event.Topic("LOW"), event.Topic("HIGH")

		r.Subscribe(low, func(e event.Event, sync *HandlerSync) {
			log.add("L1")
			for !sync.ShouldSuspend() {
				time.Sleep(time.Millisecond)
			}
			sync.ConfirmSuspended()
			log.add("L2")
		})
		r.Subscribe(high, func(e event.Event, sync *HandlerSync) {
			log.add("H")
		})

		d.Push(event.New(low, 1, event.NoArgs{}))
		Eventually(func() []string { return log.snapshot() }, time.Second).
			Should(ContainElement("L1"))

		d.Push(event.New(high, 5, event.NoArgs{}))

		Eventually(func() []string { return log.snapshot() }, time.Second).
			Should(Equal([]string{"L1", "H", "L2"}))
	})

	It("does not preempt on equal priority", func() {
		log := &opLog{}
		const a = event.Topic("EQ")
		started := make(chan struct{})
		release := make(chan struct{})

		r.Subscribe(a, func(e event.Event, sync *HandlerSync) {
			if e.Args.(event.StringArgs).Value == "first" {
				close(started)
				<-release
			}
			log.add(e.Args.(event.StringArgs).Value)
		})

		d.Push(event.New(a, 3, event.StringArgs{Value: "first"}))
		Eventually(started, time.Second).Should(BeClosed())

		d.Push(event.New(a, 3, event.StringArgs{Value: "second"}))
		// Give the dispatcher a few ticks to (incorrectly) preempt if it were
		// going to; it must not, since priority is equal.
		time.Sleep(20 * time.Millisecond)
		Expect(log.snapshot()).To(BeEmpty())

		close(release)
		Eventually(func() []string { return log.snapshot() }, time.Second).
			Should(Equal([]string{"first", "second"}))
	})

	It("drops events whose topic has no handler", func() {
		d.Push(event.New(event.Topic("NOBODY_HOME"), 0, event.NoArgs{}))
		// No assertion beyond "does not panic / hang"; Stop() in AfterEach
		// will fail the test via Eventually if the dispatcher got stuck.
		time.Sleep(10 * time.Millisecond)
	})
})

var _ = Describe("handler-initiated shutdown", func() {
	It("does not deadlock when a handler calls Stop on its own agent", func() {
		d, _, r := newTestDispatcher()
		go d.Run()

		const topic = event.Topic("SELF_QUIT")
		r.Subscribe(topic, func(e event.Event, sync *HandlerSync) {
			sync.SetSyscallOrigin()
			d.Stop()
		})

		d.Push(event.New(topic, 0, event.NoArgs{}))

		Eventually(d.Done(), 100*time.Millisecond).Should(BeClosed())
	})
})
