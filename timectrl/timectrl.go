package timectrl

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// SimClock gives components access to simulation time without tying them
// to a concrete controller, so tests can substitute a fake clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d
	// has elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as fast as the loop can run, still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController drives simulation time and notifies registered listeners.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	timers      []timer
}

type timer struct {
	at time.Time
	ch chan time.Time
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns the simulation time since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// SetTime jumps the clock to t and fires timers that became due. Listeners
// are not notified.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	tc.mu.Unlock()
	tc.fireTimers(t)
}

// After returns a channel that receives the simulation time once d has
// elapsed in simulation time.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	at := tc.currentTime.Add(d)
	if d <= 0 {
		tc.mu.Unlock()
		ch <- at
		return ch
	}
	tc.timers = append(tc.timers, timer{at: at, ch: ch})
	tc.mu.Unlock()
	return ch
}

func (tc *TimeController) fireTimers(now time.Time) {
	tc.mu.Lock()
	pending := tc.timers[:0]
	var due []timer
	for _, t := range tc.timers {
		if t.at.After(now) {
			pending = append(pending, t)
		} else {
			due = append(due, t)
		}
	}
	tc.timers = pending
	tc.mu.Unlock()

	for _, t := range due {
		t.ch <- now
	}
}

// AddListener registers a callback invoked on every tick, in order of
// registration. Listeners must be added before Start.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run advances the clock from StartTime by Tick until duration has
// elapsed or ctx is cancelled. A non-positive duration runs until ctx is
// cancelled.
func (tc *TimeController) Run(ctx context.Context, duration time.Duration) error {
	tc.mu.Lock()
	simTime := tc.StartTime
	tc.currentTime = simTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	var tick <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for elapsed := time.Duration(0); duration <= 0 || elapsed < duration; elapsed += tc.Tick {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}

		simTime = simTime.Add(tc.Tick)
		tc.mu.Lock()
		tc.currentTime = simTime
		tc.mu.Unlock()

		tc.fireTimers(simTime)
		for _, fn := range listeners {
			fn(simTime)
		}
	}
	return nil
}

// Start runs the controller for duration in a separate goroutine and
// returns a channel closed when it finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tc.Run(ctx, duration)
	}()
	return done
}
