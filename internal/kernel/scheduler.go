// Package kernel is a reference in-process executor for scheduled tasks.
// It stands in for the packet-level simulator: it walks simulated time,
// launches and stops tasks through a Launcher, and records what happened.
package kernel

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/substation-sim/timectrl"
)

// EventScheduler runs callbacks at simulation times taken from a SimClock.
// The runner advances the clock and calls RunDue after every step.
type EventScheduler interface {
	// Schedule registers f to run at simulation time at and returns an
	// ID usable with Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel drops a pending event. Unknown or already-run IDs are ignored.
	Cancel(id string)

	// Now returns the current simulation time of the underlying clock.
	Now() time.Time

	// RunDue executes every event scheduled at or before Now. Events at
	// the same instant run in the order they were scheduled.
	RunDue()

	// Pending returns the number of events still waiting to run.
	Pending() int
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by when, FIFO within one instant
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates an event scheduler backed by clock.
func NewEventScheduler(clock timectrl.SimClock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)
	ev := &scheduledEvent{id: id, when: at, f: f}

	// insert after every event at the same instant
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(at)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[id] = ev
	return id
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	// removal is lazy; popDueLocked skips cancelled events
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest due event, or nil.
func (s *eventScheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		ev := s.popDueLocked(now)
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// outside the lock so callbacks may schedule further events
		if ev.f != nil {
			ev.f()
		}
	}
}
