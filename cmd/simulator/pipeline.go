package main

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/config"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/internal/observability"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/scenario"
)

// pipeline runs the two construction phases of one scenario: build the
// topology, then schedule tasks against it.
type pipeline struct {
	cfg     config.Config
	metrics *observability.ScenarioCollector
}

func (p *pipeline) build(ctx context.Context) (*core.Topology, error) {
	ctx, span := observability.StartSpan(ctx, "scenario.build",
		attribute.String("shape", p.cfg.Topology.Shape))
	topo, err := p.doBuild(ctx)
	observability.EndSpan(span, err)
	return topo, err
}

func (p *pipeline) doBuild(ctx context.Context) (*core.Topology, error) {
	defer p.observe("build", time.Now())
	spec, err := p.cfg.TopologySpec()
	if err != nil {
		p.metrics.RecordFailure("build", errorKind(err))
		return nil, err
	}
	alloc, err := core.NewAddressAllocator(p.cfg.CoreAddressPlan())
	if err != nil {
		p.metrics.RecordFailure("build", errorKind(err))
		return nil, err
	}
	b := core.NewBuilder(alloc,
		core.WithLogger(logging.FromContext(ctx)),
		core.WithBuildHook(func(t *core.Topology) {
			p.metrics.SetTopologyCounts(len(t.Nodes()), len(t.Links()), len(t.Subnets()))
		}),
	)
	topo, err := b.Build(ctx, spec)
	if err != nil {
		p.metrics.RecordFailure("build", errorKind(err))
		return nil, err
	}
	return topo, nil
}

func (p *pipeline) schedule(ctx context.Context, topo *core.Topology) ([]model.Task, error) {
	ctx, span := observability.StartSpan(ctx, "scenario.schedule",
		attribute.String("policy", p.cfg.Schedule.Policy.String()))
	defer p.observe("schedule", time.Now())

	tasks, err := scenario.Schedule(ctx, topo, scenario.DefaultRoles(topo), p.cfg.ScenarioOptions())
	if err != nil {
		p.metrics.RecordFailure("schedule", errorKind(err))
	} else {
		p.metrics.SetTaskCount(len(tasks))
		span.SetAttributes(attribute.Int("tasks", len(tasks)))
	}
	observability.EndSpan(span, err)
	return tasks, err
}

func (p *pipeline) observe(stage string, start time.Time) {
	p.metrics.ObserveStage(stage, time.Since(start))
}

// errorKind maps an error onto the kind label of
// scenario_build_failures_total.
func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidTopologyParameters):
		return "invalid_topology_parameters"
	case errors.Is(err, core.ErrAddressSpaceExhausted):
		return "address_space_exhausted"
	case errors.Is(err, core.ErrInvalidAddressPlan):
		return "invalid_address_plan"
	case errors.Is(err, scenario.ErrUnresolvedPeerAddress):
		return "unresolved_peer_address"
	case errors.Is(err, scenario.ErrInvalidTiming):
		return "invalid_timing"
	case errors.Is(err, scenario.ErrInvalidTemplate):
		return "invalid_template"
	case errors.Is(err, scenario.ErrInvalidRoleAssignment):
		return "invalid_role_assignment"
	default:
		return "other"
	}
}
