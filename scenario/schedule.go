package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
)

var (
	ErrUnresolvedPeerAddress = errors.New("unresolved peer address")
	ErrInvalidTiming         = errors.New("invalid timing")
	ErrInvalidTemplate       = errors.New("invalid task template")
	ErrInvalidRoleAssignment = errors.New("invalid role assignment")
)

// Options configures task generation.
type Options struct {
	Server Template
	Client Template
	Timing Timing

	Policy Policy
	// Target indexes the server list (creation order) under ContactOne.
	Target int

	// Instances repeats each client task against the same target. Zero
	// means one.
	Instances int
}

// DefaultOptions uses the default templates and timing and contacts
// every server once.
func DefaultOptions() Options {
	return Options{
		Server:    DefaultServerTemplate(),
		Client:    DefaultClientTemplate(),
		Timing:    DefaultTiming(),
		Policy:    ContactAll,
		Instances: 1,
	}
}

// Schedule turns an addressed topology into the ordered list of tasks the
// kernel should launch. Tasks are sorted by start time with ties broken
// by node creation order; tasks on one node at one instant keep their
// emission order (servers before clients, targets in server order).
func Schedule(ctx context.Context, topo *core.Topology, roles RoleAssignment, opts Options) ([]model.Task, error) {
	if topo == nil {
		return nil, fmt.Errorf("%w: no topology", ErrUnresolvedPeerAddress)
	}
	log := logging.FromContext(ctx)

	if err := opts.Server.validate(model.RoleServer); err != nil {
		return nil, err
	}
	if err := opts.Client.validate(model.RoleClient); err != nil {
		return nil, err
	}
	timing := opts.Timing
	if err := timing.validate(); err != nil {
		return nil, err
	}
	instances := opts.Instances
	if instances == 0 {
		instances = 1
	}
	if instances < 0 {
		return nil, fmt.Errorf("%w: negative instance count %d", ErrInvalidTiming, instances)
	}

	servers, clients, err := roles.split(topo)
	if err != nil {
		return nil, err
	}
	if n := len(servers); n > 0 {
		last := timing.ServerStart + time.Duration(n-1)*timing.ServerStagger
		if timing.ClientStart < last {
			return nil, fmt.Errorf("%w: client start %s precedes last server start %s", ErrInvalidTiming, timing.ClientStart, last)
		}
	}

	targets, err := resolveTargets(topo, servers, opts)
	if err != nil {
		return nil, err
	}

	tasks := make([]model.Task, 0, len(servers)+len(clients)*len(targets)*instances)
	for i, id := range servers {
		start := timing.ServerStart + time.Duration(i)*timing.ServerStagger
		tasks = append(tasks, model.Task{
			Binary: opts.Server.Binary,
			Args:   opts.Server.render(0, ""),
			Node:   id,
			Role:   model.RoleServer,
			Start:  start,
			Stop:   timing.stop(start, timing.ServerRunFor),
		})
	}

	for _, id := range clients {
		k := 0
		emit := func(t target, instance int) {
			start := timing.ClientStart + time.Duration(k)*timing.ClientStagger
			k++
			tasks = append(tasks, model.Task{
				Binary:   opts.Client.Binary,
				Args:     opts.Client.render(t.node, t.addr),
				Node:     id,
				Role:     model.RoleClient,
				Start:    start,
				Stop:     timing.stop(start, timing.ClientRunFor),
				Instance: instance,
			})
		}
		if !opts.Client.HasPeer() {
			for inst := 0; inst < instances; inst++ {
				emit(target{}, inst)
			}
			continue
		}
		for _, t := range targets {
			if t.node == id {
				continue
			}
			for inst := 0; inst < instances; inst++ {
				emit(t, inst)
			}
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Start != tasks[j].Start {
			return tasks[i].Start < tasks[j].Start
		}
		return tasks[i].Node < tasks[j].Node
	})

	log.Info(ctx, "scheduled tasks",
		logging.Int("servers", len(servers)),
		logging.Int("clients", len(clients)),
		logging.Int("tasks", len(tasks)),
		logging.String("policy", opts.Policy.String()),
	)
	return tasks, nil
}

type target struct {
	node model.NodeID
	addr string
}

// resolveTargets picks the servers clients contact and looks up their
// addresses. Every address must already be allocated.
func resolveTargets(topo *core.Topology, servers []model.NodeID, opts Options) ([]target, error) {
	if !opts.Client.HasPeer() {
		return nil, nil
	}
	picked := servers
	switch opts.Policy {
	case ContactAll:
	case ContactOne:
		if opts.Target < 0 || opts.Target >= len(servers) {
			return nil, fmt.Errorf("%w: target server %d of %d does not exist", ErrUnresolvedPeerAddress, opts.Target, len(servers))
		}
		picked = servers[opts.Target : opts.Target+1]
	default:
		return nil, fmt.Errorf("%w: unknown contact policy %d", ErrInvalidRoleAssignment, int(opts.Policy))
	}

	out := make([]target, 0, len(picked))
	for _, id := range picked {
		addr, err := topo.NodeAddr(id)
		if err != nil {
			return nil, fmt.Errorf("%w: server %s: %v", ErrUnresolvedPeerAddress, id, err)
		}
		out = append(out, target{node: id, addr: addr.String()})
	}
	return out, nil
}
