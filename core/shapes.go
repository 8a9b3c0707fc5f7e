package core

import (
	"fmt"

	"github.com/signalsfoundry/substation-sim/model"
)

// Shape is one of the supported topology strategies. The set is closed:
// only the shapes in this package implement it.
type Shape interface {
	Name() string
	validate() error
	wire(w *wiring) error
}

// PointToPoint is a server (node 0) and a client (node 1) on one link.
type PointToPoint struct{}

func (PointToPoint) Name() string    { return "p2p" }
func (PointToPoint) validate() error { return nil }

func (PointToPoint) wire(w *wiring) error {
	server := w.node("server", model.RoleServer)
	client := w.node("client", model.RoleClient)
	return w.link(server, client, model.LinkPointToPoint)
}

// Star is a router hub with Spokes leaves. The last leaf is the client,
// the others are servers.
type Star struct {
	Spokes int
}

func (Star) Name() string { return "star" }

func (s Star) validate() error {
	if s.Spokes <= 0 {
		return fmt.Errorf("%w: spoke count %d must be positive", ErrInvalidTopologyParameters, s.Spokes)
	}
	return nil
}

func (s Star) wire(w *wiring) error {
	hub := w.node("router", model.RoleRouter)
	for i := 0; i < s.Spokes; i++ {
		name, role := fmt.Sprintf("server%d", i), model.RoleServer
		if i == s.Spokes-1 {
			name, role = "client", model.RoleClient
		}
		leaf := w.node(name, role)
		if err := w.link(hub, leaf, w.leafKind()); err != nil {
			return err
		}
	}
	return nil
}

// Tree has router levels 0..Depth-1 and server leaves at level Depth,
// every router having Fanout children. Nodes and links are created
// breadth-first; a client hangs off the root and is created last.
type Tree struct {
	Depth  int
	Fanout int
}

func (Tree) Name() string { return "tree" }

func (t Tree) validate() error {
	if t.Depth <= 0 {
		return fmt.Errorf("%w: tree depth %d must be positive", ErrInvalidTopologyParameters, t.Depth)
	}
	if t.Fanout <= 0 {
		return fmt.Errorf("%w: tree fanout %d must be positive", ErrInvalidTopologyParameters, t.Fanout)
	}
	return nil
}

func (t Tree) wire(w *wiring) error {
	root := w.node("router0", model.RoleRouter)
	level := []model.NodeID{root}
	routers, servers := 1, 0
	for depth := 1; depth <= t.Depth; depth++ {
		// grown by append so oversized fanouts hit pool exhaustion
		var next []model.NodeID
		for _, parent := range level {
			for c := 0; c < t.Fanout; c++ {
				var child model.NodeID
				if depth == t.Depth {
					child = w.node(fmt.Sprintf("server%d", servers), model.RoleServer)
					servers++
				} else {
					child = w.node(fmt.Sprintf("router%d", routers), model.RoleRouter)
					routers++
				}
				if err := w.link(parent, child, w.leafKind()); err != nil {
					return err
				}
				next = append(next, child)
			}
		}
		level = next
	}
	client := w.node("client", model.RoleClient)
	return w.link(root, client, w.leafKind())
}

// Cellular attaches UEs to a base station whose backhaul reaches a
// gateway. The gateway bridges to a wired remote host that acts as the
// client; the UEs are servers. WiredServers adds servers on
// point-to-point links behind the remote host.
type Cellular struct {
	UEs          int
	WiredServers int
}

func (Cellular) Name() string { return "cellular" }

func (c Cellular) validate() error {
	if c.UEs <= 0 {
		return fmt.Errorf("%w: UE count %d must be positive", ErrInvalidTopologyParameters, c.UEs)
	}
	if c.WiredServers < 0 {
		return fmt.Errorf("%w: wired server count %d is negative", ErrInvalidTopologyParameters, c.WiredServers)
	}
	return nil
}

func (c Cellular) wire(w *wiring) error {
	gw := w.node("gateway", model.RoleGateway)
	remote := w.node("remote", model.RoleClient)
	bs := w.node("enb", model.RoleBaseStation)

	if err := w.link(gw, remote, model.LinkShared); err != nil {
		return err
	}
	if err := w.link(bs, gw, model.LinkBackhaul); err != nil {
		return err
	}
	for i := 0; i < c.UEs; i++ {
		ue := w.node(fmt.Sprintf("ue%d", i), model.RoleServer)
		if err := w.link(bs, ue, model.LinkRadio); err != nil {
			return err
		}
	}
	for i := 0; i < c.WiredServers; i++ {
		srv := w.node(fmt.Sprintf("server%d", i), model.RoleServer)
		if err := w.link(remote, srv, model.LinkPointToPoint); err != nil {
			return err
		}
	}
	return nil
}
