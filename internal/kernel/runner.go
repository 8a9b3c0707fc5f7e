package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/timectrl"
)

var ErrLaunchFailed = errors.New("task launch failed")

// TaskEventRecorder receives one call per lifecycle transition: "start",
// "stop" or "failure".
type TaskEventRecorder interface {
	IncTaskEvent(event string)
}

// Host is the kernel's handle for a topology node.
type Host struct {
	ID      model.NodeID
	Name    string
	Running int
}

// Report summarises a run.
type Report struct {
	Started int
	Stopped int
	Failed  int
	Skipped int
	End     time.Duration
}

// Runner executes tasks against a topology on a simulated clock.
type Runner struct {
	launcher Launcher
	log      logging.Logger
	metrics  TaskEventRecorder
	tick     time.Duration
	mode     timectrl.Mode
	start    time.Time
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetricsRecorder counts lifecycle transitions.
func WithMetricsRecorder(m TaskEventRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTick sets the simulated step.
func WithTick(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithMode selects real-time or accelerated stepping.
func WithMode(m timectrl.Mode) RunnerOption {
	return func(r *Runner) { r.mode = m }
}

// NewRunner returns a Runner that launches through l. Defaults: 100ms
// tick, accelerated mode.
func NewRunner(l Launcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		launcher: l,
		log:      logging.Noop(),
		tick:     100 * time.Millisecond,
		mode:     timectrl.Accelerated,
		start:    time.Unix(0, 0).UTC(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type running struct {
	task model.Task
	node model.Node
}

// Run binds a Host handle to every node, then walks simulated time until
// duration, launching and stopping tasks as they fall due. A zero
// duration runs until the last task event. Tasks still running at the
// end are stopped. The first launcher error aborts the run.
func (r *Runner) Run(ctx context.Context, topo *core.Topology, tasks []model.Task, duration time.Duration) (Report, error) {
	for _, n := range topo.Nodes() {
		if err := topo.SetHandle(n.ID, &Host{ID: n.ID, Name: n.Name}); err != nil {
			return Report{}, err
		}
	}

	horizon := duration
	if horizon <= 0 {
		for _, t := range tasks {
			end := t.Start
			if t.Stop != nil && *t.Stop > end {
				end = *t.Stop
			}
			if end > horizon {
				horizon = end
			}
		}
		horizon += r.tick
	}

	tc := timectrl.NewTimeController(r.start, r.tick, r.mode)
	sched := NewEventScheduler(tc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		report   Report
		runErr   error
		inFlight = make(map[int]running)
	)
	fail := func(err error) {
		if runErr == nil {
			runErr = err
		}
		report.Failed++
		r.count("failure")
		cancel()
	}

	for i, t := range tasks {
		node, ok := topo.Node(t.Node)
		if !ok {
			return Report{}, fmt.Errorf("%w: %s", core.ErrNodeNotFound, t.Node)
		}
		if duration > 0 && t.Start >= duration {
			report.Skipped++
			r.log.Warn(ctx, "task starts after scenario end", logging.String("task", t.String()))
			continue
		}
		sched.Schedule(r.start.Add(t.Start), func() {
			if runErr != nil {
				return
			}
			if err := r.launcher.Launch(ctx, t.Start, node, t); err != nil {
				fail(fmt.Errorf("%w: %s: %v", ErrLaunchFailed, t, err))
				return
			}
			node.Handle.(*Host).Running++
			inFlight[i] = running{task: t, node: node}
			report.Started++
			r.count("start")
		})
		if t.Stop != nil {
			stop := *t.Stop
			sched.Schedule(r.start.Add(stop), func() {
				if _, ok := inFlight[i]; !ok {
					return
				}
				r.stop(ctx, stop, i, inFlight, &report)
			})
		}
	}

	tc.AddListener(func(time.Time) { sched.RunDue() })

	r.log.Info(ctx, "kernel run starting",
		logging.Int("tasks", len(tasks)),
		logging.Duration("horizon", horizon),
		logging.String("mode", r.mode.String()),
	)
	sched.RunDue()
	err := tc.Run(ctx, horizon)
	report.End = tc.Elapsed()

	if runErr != nil {
		return report, runErr
	}
	if err != nil {
		return report, err
	}

	for i := range tasks {
		if _, ok := inFlight[i]; ok {
			r.stop(ctx, report.End, i, inFlight, &report)
		}
	}
	r.log.Info(ctx, "kernel run finished",
		logging.Int("started", report.Started),
		logging.Int("stopped", report.Stopped),
		logging.Int("skipped", report.Skipped),
		logging.Duration("end", report.End),
	)
	return report, nil
}

func (r *Runner) stop(ctx context.Context, at time.Duration, i int, inFlight map[int]running, report *Report) {
	run := inFlight[i]
	delete(inFlight, i)
	if err := r.launcher.Stop(ctx, at, run.node, run.task); err != nil {
		r.log.Warn(ctx, "task stop failed", logging.String("task", run.task.String()), logging.Err(err))
	}
	if h, ok := run.node.Handle.(*Host); ok {
		h.Running--
	}
	report.Stopped++
	r.count("stop")
}

func (r *Runner) count(event string) {
	if r.metrics != nil {
		r.metrics.IncTaskEvent(event)
	}
}
