package kernel

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a test-only SimClock.
type fakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time, 1)
}

func (c *fakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEventScheduler_RunsInTimeOrder(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	var order []string
	sched.Schedule(epoch.Add(30*time.Second), func() { order = append(order, "e3") })
	sched.Schedule(epoch.Add(10*time.Second), func() { order = append(order, "e1") })
	sched.Schedule(epoch.Add(20*time.Second), func() { order = append(order, "e2") })

	sched.RunDue()
	if len(order) != 0 {
		t.Fatalf("events ran before their time: %v", order)
	}

	clock.AdvanceTo(epoch.Add(20 * time.Second))
	sched.RunDue()
	if len(order) != 2 || order[0] != "e1" || order[1] != "e2" {
		t.Fatalf("order = %v, want [e1 e2]", order)
	}
	if sched.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", sched.Pending())
	}

	clock.AdvanceTo(epoch.Add(30 * time.Second))
	sched.RunDue()
	sched.RunDue()
	if len(order) != 3 || order[2] != "e3" {
		t.Fatalf("order = %v, want [e1 e2 e3]", order)
	}
}

func TestEventScheduler_SameInstantIsFIFO(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	var order []int
	at := epoch.Add(time.Second)
	for i := 0; i < 5; i++ {
		sched.Schedule(at, func() { order = append(order, i) })
	}
	clock.AdvanceTo(at)
	sched.RunDue()
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4", order)
		}
	}
}

func TestEventScheduler_Cancel(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	var counter int
	id := sched.Schedule(epoch.Add(10*time.Second), func() { counter++ })
	sched.Cancel(id)
	sched.Cancel("unknown-id")

	clock.AdvanceTo(epoch.Add(10 * time.Second))
	sched.RunDue()
	if counter != 0 {
		t.Fatalf("cancelled event ran, counter=%d", counter)
	}
	if sched.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", sched.Pending())
	}
}

func TestEventScheduler_Reentrancy(t *testing.T) {
	clock := newFakeClock(epoch)
	sched := NewEventScheduler(clock)

	var counter int
	sched.Schedule(epoch.Add(10*time.Second), func() {
		counter++
		sched.Schedule(epoch.Add(20*time.Second), func() { counter++ })
	})

	clock.AdvanceTo(epoch.Add(10 * time.Second))
	sched.RunDue()
	if counter != 1 {
		t.Fatalf("counter = %d after first event, want 1", counter)
	}
	clock.AdvanceTo(epoch.Add(20 * time.Second))
	sched.RunDue()
	if counter != 2 {
		t.Fatalf("counter = %d after nested event, want 2", counter)
	}
}
