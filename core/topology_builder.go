package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
)

// Parameters carries the per-link defaults shared by all shapes.
type Parameters struct {
	DataRate model.DataRate
	Delay    time.Duration

	// SharedSegments addresses router-to-leaf links of stars and trees
	// with the shared (/24) mask instead of the point-to-point one.
	SharedSegments bool
}

// DefaultParameters matches the scenarios' command-line defaults.
func DefaultParameters() Parameters {
	return Parameters{
		DataRate: model.MustParseDataRate("5Mbps"),
		Delay:    2 * time.Millisecond,
	}
}

// Spec is a scenario's topology request.
type Spec struct {
	Shape      Shape
	Parameters Parameters
}

// Builder turns a Spec into an addressed Topology.
type Builder struct {
	alloc *AddressAllocator
	log   logging.Logger
	hooks []func(*Topology)
}

// BuilderOption customises Builder construction.
type BuilderOption func(*Builder)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// WithBuildHook registers fn to observe each successfully built topology.
func WithBuildHook(fn func(*Topology)) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.hooks = append(b.hooks, fn)
		}
	}
}

// NewBuilder returns a Builder that addresses links from alloc. A nil
// alloc uses DefaultAddressPlan.
func NewBuilder(alloc *AddressAllocator, opts ...BuilderOption) *Builder {
	if alloc == nil {
		alloc = &AddressAllocator{plan: DefaultAddressPlan()}
	}
	b := &Builder{alloc: alloc, log: logging.Noop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates spec and constructs the topology. Parameters are
// checked before the first subnet is allocated; on any error no
// topology is returned.
func (b *Builder) Build(ctx context.Context, spec Spec) (*Topology, error) {
	if spec.Shape == nil {
		return nil, fmt.Errorf("%w: no shape", ErrInvalidTopologyParameters)
	}
	if err := spec.Shape.validate(); err != nil {
		return nil, err
	}
	if spec.Parameters.DataRate == 0 {
		return nil, fmt.Errorf("%w: data rate must be positive", ErrInvalidTopologyParameters)
	}
	if spec.Parameters.Delay < 0 {
		return nil, fmt.Errorf("%w: negative delay %s", ErrInvalidTopologyParameters, spec.Parameters.Delay)
	}

	w := &wiring{
		topo:    newTopology(spec.Shape.Name()),
		alloc:   b.alloc,
		params:  spec.Parameters,
		cursors: make(map[cursorKey]int),
	}
	if err := spec.Shape.wire(w); err != nil {
		return nil, err
	}
	if err := w.topo.Validate(); err != nil {
		return nil, err
	}

	b.log.Info(ctx, "built topology",
		logging.String("shape", w.topo.shape),
		logging.Int("nodes", len(w.topo.nodes)),
		logging.Int("links", len(w.topo.links)),
	)
	for _, l := range w.topo.links {
		b.log.Debug(ctx, "link addressed",
			logging.Int("link", l.ID),
			logging.String("kind", string(l.Kind)),
			logging.String("a", l.A.String()),
			logging.String("b", l.B.String()),
			logging.String("subnet", l.Subnet.String()),
		)
	}
	for _, fn := range b.hooks {
		fn(w.topo)
	}
	return w.topo, nil
}

// cursorKey groups link kinds that draw from the same pool.
type cursorKey string

func poolOf(kind model.LinkKind) cursorKey {
	switch kind {
	case model.LinkPointToPoint, model.LinkShared:
		return "wired"
	}
	return cursorKey(kind)
}

// wiring is the scenario-scoped state of one Build call. The cursors
// advance once per link in creation order, which is what makes subnet
// assignment reproducible.
type wiring struct {
	topo    *Topology
	alloc   *AddressAllocator
	params  Parameters
	cursors map[cursorKey]int
}

func (w *wiring) node(name string, role model.Role) model.NodeID {
	return w.topo.addNode(name, role)
}

func (w *wiring) link(a, b model.NodeID, kind model.LinkKind) error {
	key := poolOf(kind)
	idx := w.cursors[key]
	subnet, err := w.alloc.Allocate(kind, idx)
	if err != nil {
		return err
	}
	w.cursors[key] = idx + 1

	addrA, addrB := Endpoints(kind, subnet)
	w.topo.addLink(model.Link{
		A:        a,
		B:        b,
		Kind:     kind,
		DataRate: w.params.DataRate,
		Delay:    w.params.Delay,
		Subnet:   subnet,
		AddrA:    addrA,
		AddrB:    addrB,
	})
	if kind == model.LinkRadio {
		w.topo.ueGateway = w.alloc.UEGateway()
	}
	return nil
}

func (w *wiring) leafKind() model.LinkKind {
	if w.params.SharedSegments {
		return model.LinkShared
	}
	return model.LinkPointToPoint
}

// ParseShape maps a shape name and sizing onto a Shape value.
func ParseShape(name string, sizing Sizing) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "p2p", "point-to-point", "pointtopoint":
		return PointToPoint{}, nil
	case "star":
		return Star{Spokes: sizing.Spokes}, nil
	case "tree":
		return Tree{Depth: sizing.TreeDepth, Fanout: sizing.TreeFanout}, nil
	case "cellular", "lte":
		return Cellular{UEs: sizing.UEs, WiredServers: sizing.WiredServers}, nil
	}
	return nil, fmt.Errorf("%w: unsupported shape %q", ErrInvalidTopologyParameters, name)
}

// Sizing collects the shape-specific sizing knobs exposed on the
// command line.
type Sizing struct {
	Spokes       int
	TreeDepth    int
	TreeFanout   int
	UEs          int
	WiredServers int
}
