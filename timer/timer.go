// Package timer implements the agent runtime's timer table:
// one-shot and recurring timers that fire into the event queue at a
// dispatcher-controlled tick resolution.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/fenmoor/agentcore/event"
)

// BadID is returned by Schedule when the requested timestamp is not
// strictly in the future.
const BadID int16 = -1

// ErrNoSuchTimer is returned by Remove when id is not present in the
// table.
var ErrNoSuchTimer = errors.New("timer: no such timer")

// ErrNotFuture is returned by Schedule when the timestamp is not
// strictly after the current time.
var ErrNotFuture = errors.New("timer: scheduled time is not in the future")

type entry struct {
	id        int16
	period    time.Duration
	lastFired time.Time
	recurring bool
	topic     event.Topic
	args      event.Args
}

// Table is a thread-safe map from timer id to timer, guarded by a mutex
// that is always acquired before (and released before) the event queue's
// mutex is taken, following the fixed lock order (timers before queue, never the
// reverse).
type Table struct {
	mu     sync.Mutex
	timers map[int16]*entry
	nextID int16
}

// NewTable creates an empty timer table.
func NewTable() *Table {
	return &Table{timers: make(map[int16]*entry)}
}

// Delay installs a one-shot timer that fires period after now.
func (t *Table) Delay(period time.Duration, topic event.Topic, args event.Args) int16 {
	return t.insert(period, topic, args, false, time.Now())
}

// AddRecurring installs a timer that fires every period, starting period
// from now.
func (t *Table) AddRecurring(period time.Duration, topic event.Topic, args event.Args) int16 {
	return t.insert(period, topic, args, true, time.Now())
}

// Schedule installs a one-shot timer that fires at the given absolute
// time. If at is not strictly after time.Now(), no timer is installed and
// BadID is returned alongside ErrNotFuture.
func (t *Table) Schedule(at time.Time, topic event.Topic, args event.Args) (int16, error) {
	now := time.Now()
	if !now.Before(at) {
		return BadID, ErrNotFuture
	}
	period := at.Sub(now)
	return t.insert(period, topic, args, false, now), nil
}

func (t *Table) insert(period time.Duration, topic event.Topic, args event.Args, recurring bool, now time.Time) int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.timers[id] = &entry{
		id:        id,
		period:    period,
		lastFired: now,
		recurring: recurring,
		topic:     topic,
		args:      args,
	}
	return id
}

// Remove deletes a timer by id. Returns ErrNoSuchTimer if absent.
func (t *Table) Remove(id int16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[id]; !ok {
		return ErrNoSuchTimer
	}
	delete(t.timers, id)
	return nil
}

// List returns a snapshot of the ids currently installed.
func (t *Table) List() []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int16, 0, len(t.timers))
	for id := range t.timers {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot describes one timer for external introspection.
type Snapshot struct {
	ID        int16
	Topic     event.Topic
	Period    time.Duration
	Recurring bool
	NextFire  time.Time
}

// Snapshots returns a point-in-time view of every installed timer, for
// read-only callers such as the monitor that must never hold the table's
// mutex while formatting a response.
func (t *Table) Snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.timers))
	for _, e := range t.timers {
		out = append(out, Snapshot{
			ID:        e.id,
			Topic:     e.topic,
			Period:    e.period,
			Recurring: e.recurring,
			NextFire:  e.lastFired.Add(e.period),
		})
	}
	return out
}

// Fire examines every timer and, for each whose deadline has passed,
// deep-copies its args into a new priority-0 Event. Recurring timers
// advance lastFired to now; one-shot timers are removed. The timers
// mutex is held for the full scan but is released before Fire returns -
// callers must push the returned events onto the queue themselves, after
// Fire returns, so the timers lock is never held concurrently with the
// queue lock.
func (t *Table) Fire(now time.Time) []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fired []event.Event
	for id, e := range t.timers {
		if e.lastFired.Add(e.period).After(now) {
			continue
		}
		fired = append(fired, event.New(e.topic, event.DefaultPriority, e.args.Copy()))
		if e.recurring {
			e.lastFired = now
		} else {
			delete(t.timers, id)
		}
	}
	return fired
}

// Drain removes and discards every timer. Used only at agent shutdown.
func (t *Table) Drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timers = make(map[int16]*entry)
}
