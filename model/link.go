package model

import (
	"net/netip"
	"time"
)

// LinkKind selects the address pool and mask a link is addressed from.
type LinkKind string

const (
	// LinkPointToPoint is a two-host wired link (/30).
	LinkPointToPoint LinkKind = "p2p"
	// LinkShared is a hub or remote-host segment (/24).
	LinkShared LinkKind = "shared"
	// LinkBackhaul connects a base station to its packet gateway.
	LinkBackhaul LinkKind = "backhaul"
	// LinkRadio attaches a UE to a base station through the kernel's
	// radio model. Only the UE end carries an address.
	LinkRadio LinkKind = "radio"
)

// Wired reports whether frames on the link are carried over a wired
// point-to-point channel.
func (k LinkKind) Wired() bool { return k != LinkRadio }

// Subnet is the address range owned by exactly one link.
type Subnet struct {
	Prefix netip.Prefix `json:"prefix"`
}

func (s Subnet) String() string { return s.Prefix.String() }

// Link connects two nodes and owns one subnet.
type Link struct {
	ID       int           `json:"id"`
	A        NodeID        `json:"a"`
	B        NodeID        `json:"b"`
	Kind     LinkKind      `json:"kind"`
	DataRate DataRate      `json:"data_rate"`
	Delay    time.Duration `json:"delay"`
	Subnet   Subnet        `json:"subnet"`

	// AddrA and AddrB are the interface addresses assigned to each end.
	// AddrA is the zero Addr on radio links.
	AddrA netip.Addr `json:"addr_a"`
	AddrB netip.Addr `json:"addr_b"`
}

// Other returns the endpoint opposite id, and false when id is not an
// endpoint of the link.
func (l Link) Other(id NodeID) (NodeID, bool) {
	switch id {
	case l.A:
		return l.B, true
	case l.B:
		return l.A, true
	}
	return 0, false
}

// AddrOf returns the address assigned to the given endpoint.
func (l Link) AddrOf(id NodeID) netip.Addr {
	switch id {
	case l.A:
		return l.AddrA
	case l.B:
		return l.AddrB
	}
	return netip.Addr{}
}
