package scenario

import (
	"fmt"
	"strings"
	"time"
)

// Timing holds the start offsets and run limits of a scenario. All
// values are offsets from the start of the simulation.
type Timing struct {
	ServerStart   time.Duration
	ServerStagger time.Duration // added per server index
	ServerRunFor  time.Duration // zero: run until Duration

	ClientStart   time.Duration
	ClientStagger time.Duration // added per task index on one client node
	ClientRunFor  time.Duration // zero: run until Duration

	// Duration ends the scenario. Stops are clamped to it; zero leaves
	// tasks without a RunFor unstopped.
	Duration time.Duration
}

// DefaultTiming starts servers at 1s and clients at 3s, gives every
// client session 2s to complete and ends the scenario at 30s.
func DefaultTiming() Timing {
	return Timing{
		ServerStart:  1 * time.Second,
		ClientStart:  3 * time.Second,
		ClientRunFor: 2 * time.Second,
		Duration:     30 * time.Second,
	}
}

func (t Timing) validate() error {
	fields := []struct {
		name string
		d    time.Duration
	}{
		{"server start", t.ServerStart},
		{"server stagger", t.ServerStagger},
		{"server run", t.ServerRunFor},
		{"client start", t.ClientStart},
		{"client stagger", t.ClientStagger},
		{"client run", t.ClientRunFor},
		{"duration", t.Duration},
	}
	for _, f := range fields {
		if f.d < 0 {
			return fmt.Errorf("%w: negative %s %s", ErrInvalidTiming, f.name, f.d)
		}
	}
	if t.ClientStart < t.ServerStart {
		return fmt.Errorf("%w: client start %s precedes server start %s", ErrInvalidTiming, t.ClientStart, t.ServerStart)
	}
	if t.Duration > 0 && t.ClientStart >= t.Duration {
		return fmt.Errorf("%w: client start %s is not before scenario end %s", ErrInvalidTiming, t.ClientStart, t.Duration)
	}
	return nil
}

// stop computes the stop offset for a task started at start. A stop
// never precedes its start.
func (t Timing) stop(start, runFor time.Duration) *time.Duration {
	var stop time.Duration
	switch {
	case runFor > 0:
		stop = start + runFor
		if t.Duration > 0 && stop > t.Duration {
			stop = t.Duration
		}
	case t.Duration > 0:
		stop = t.Duration
	default:
		return nil
	}
	if stop < start {
		stop = start
	}
	return &stop
}

// Policy selects which servers a client contacts.
type Policy int

const (
	// ContactAll emits one client task per server.
	ContactAll Policy = iota
	// ContactOne emits one client task against the server selected by
	// Options.Target.
	ContactOne
)

func (p Policy) String() string {
	switch p {
	case ContactAll:
		return "all"
	case ContactOne:
		return "one"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts "all" or "one".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all", "":
		return ContactAll, nil
	case "one", "fixed":
		return ContactOne, nil
	}
	return ContactAll, fmt.Errorf("unknown contact policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
