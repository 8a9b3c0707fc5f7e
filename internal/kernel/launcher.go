package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
)

// Launcher starts and stops task binaries on simulated nodes. at is the
// simulation offset the action happens at.
type Launcher interface {
	Launch(ctx context.Context, at time.Duration, node model.Node, task model.Task) error
	Stop(ctx context.Context, at time.Duration, node model.Node, task model.Task) error
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStart EventKind = "start"
	EventStop  EventKind = "stop"
)

// Event is one lifecycle transition observed by a DryRunLauncher.
type Event struct {
	At   time.Duration
	Kind EventKind
	Node string
	Task model.Task
}

// Tap observes every launch of a DryRunLauncher, e.g. to feed trace sinks.
type Tap func(ctx context.Context, at time.Duration, node model.Node, task model.Task) error

// DryRunLauncher logs and records lifecycle transitions without running
// anything.
type DryRunLauncher struct {
	log logging.Logger
	tap Tap

	mu     sync.Mutex
	events []Event
}

// NewDryRunLauncher returns a launcher that logs through log. tap may be nil.
func NewDryRunLauncher(log logging.Logger, tap Tap) *DryRunLauncher {
	if log == nil {
		log = logging.Noop()
	}
	return &DryRunLauncher{log: log, tap: tap}
}

func (d *DryRunLauncher) Launch(ctx context.Context, at time.Duration, node model.Node, task model.Task) error {
	d.record(Event{At: at, Kind: EventStart, Node: node.Name, Task: task})
	d.log.Info(ctx, "task started",
		logging.Duration("at", at),
		logging.String("node", node.Name),
		logging.String("binary", task.Binary),
		logging.Any("args", task.Argv()),
	)
	if d.tap != nil {
		return d.tap(ctx, at, node, task)
	}
	return nil
}

func (d *DryRunLauncher) Stop(ctx context.Context, at time.Duration, node model.Node, task model.Task) error {
	d.record(Event{At: at, Kind: EventStop, Node: node.Name, Task: task})
	d.log.Info(ctx, "task stopped",
		logging.Duration("at", at),
		logging.String("node", node.Name),
		logging.String("binary", task.Binary),
	)
	return nil
}

// Events returns a copy of the recorded transitions in order.
func (d *DryRunLauncher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

func (d *DryRunLauncher) record(ev Event) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}
