package core

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/substation-sim/model"
)

var (
	ErrInvalidTopologyParameters = errors.New("invalid topology parameters")
	ErrNodeNotFound              = errors.New("node not found")
	ErrDisconnected              = errors.New("topology is not connected")
	ErrOverlappingSubnets        = errors.New("overlapping subnets")
)

// Topology is a fully addressed node/link graph. Values are only
// produced by Builder.Build, so holding a *Topology means every link
// already owns its subnet and every node its address.
//
// Callers MUST treat the returned slices as read-only.
type Topology struct {
	shape     string
	nodes     []model.Node
	links     []model.Link
	adjacency map[model.NodeID][]int // node -> link indices in creation order
	ueGateway netip.Addr
}

func newTopology(shape string) *Topology {
	return &Topology{
		shape:     shape,
		adjacency: make(map[model.NodeID][]int),
	}
}

// Shape names the shape the topology was built from.
func (t *Topology) Shape() string { return t.shape }

// Nodes returns nodes in creation order.
func (t *Topology) Nodes() []model.Node { return t.nodes }

// Links returns links in creation order.
func (t *Topology) Links() []model.Link { return t.links }

// Node returns the node with the given ID.
func (t *Topology) Node(id model.NodeID) (model.Node, bool) {
	if id < 0 || int(id) >= len(t.nodes) {
		return model.Node{}, false
	}
	return t.nodes[id], true
}

// NodesWithRole returns the nodes tagged with role, in creation order.
func (t *Topology) NodesWithRole(role model.Role) []model.Node {
	var out []model.Node
	for _, n := range t.nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// LinksOf returns the links attached to id in creation order.
func (t *Topology) LinksOf(id model.NodeID) []model.Link {
	idx := t.adjacency[id]
	out := make([]model.Link, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.links[i])
	}
	return out
}

// Neighbours returns the nodes directly linked to id.
func (t *Topology) Neighbours(id model.NodeID) []model.NodeID {
	var out []model.NodeID
	for _, i := range t.adjacency[id] {
		if other, ok := t.links[i].Other(id); ok {
			out = append(out, other)
		}
	}
	return out
}

// NodeAddr returns the address a node is reached at: the address of its
// interface on the first link it was attached to that assigns it one.
func (t *Topology) NodeAddr(id model.NodeID) (netip.Addr, error) {
	if _, ok := t.Node(id); !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for _, i := range t.adjacency[id] {
		if addr := t.links[i].AddrOf(id); addr.IsValid() {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%s has no addressed interface", id)
}

// Subnets returns the subnet of every link in creation order.
func (t *Topology) Subnets() []model.Subnet {
	out := make([]model.Subnet, len(t.links))
	for i, l := range t.links {
		out[i] = l.Subnet
	}
	return out
}

// SetHandle binds a kernel-owned object to a node. It is the only
// mutation allowed on a built topology.
func (t *Topology) SetHandle(id model.NodeID, handle any) error {
	if _, ok := t.Node(id); !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	t.nodes[id].Handle = handle
	return nil
}

// UEGateway returns the default gateway handed to UEs, or the zero Addr
// when the topology has no radio links.
func (t *Topology) UEGateway() netip.Addr { return t.ueGateway }

// Connected reports whether every node is reachable from node 0.
func (t *Topology) Connected() bool {
	if len(t.nodes) == 0 {
		return true
	}
	seen := make([]bool, len(t.nodes))
	queue := []model.NodeID{0}
	seen[0] = true
	visited := 1
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range t.Neighbours(cur) {
			if !seen[next] {
				seen[next] = true
				visited++
				queue = append(queue, next)
			}
		}
	}
	return visited == len(t.nodes)
}

// Validate checks the graph invariants: connectivity and pairwise
// disjoint subnets.
func (t *Topology) Validate() error {
	if !t.Connected() {
		return fmt.Errorf("%w: shape %s", ErrDisconnected, t.shape)
	}
	if x, y, ok := Overlapping(t.Subnets()); ok {
		return fmt.Errorf("%w: %s and %s", ErrOverlappingSubnets, x, y)
	}
	return nil
}

func (t *Topology) addNode(name string, role model.Role) model.NodeID {
	id := model.NodeID(len(t.nodes))
	t.nodes = append(t.nodes, model.Node{ID: id, Name: name, Role: role})
	return id
}

func (t *Topology) addLink(l model.Link) {
	l.ID = len(t.links)
	t.links = append(t.links, l)
	t.adjacency[l.A] = append(t.adjacency[l.A], l.ID)
	t.adjacency[l.B] = append(t.adjacency[l.B], l.ID)
}
