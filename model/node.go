package model

import "fmt"

// NodeID identifies a node within one topology. IDs are assigned in
// creation order starting at 0, so they double as the tie-breaker when
// ordering tasks.
type NodeID int

func (id NodeID) String() string { return fmt.Sprintf("n%d", int(id)) }

// Role tags what a node does in a scenario.
type Role string

const (
	RoleUnassigned  Role = ""
	RoleRouter      Role = "router"
	RoleServer      Role = "server"
	RoleClient      Role = "client"
	RoleBaseStation Role = "basestation"
	RoleGateway     Role = "gateway"
)

// ParseRole maps a free-form role name onto a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUnassigned, RoleRouter, RoleServer, RoleClient, RoleBaseStation, RoleGateway:
		return Role(s), nil
	case "none", "unassigned":
		return RoleUnassigned, nil
	default:
		return RoleUnassigned, fmt.Errorf("unknown role %q", s)
	}
}

// Node is a logical host or router in a scenario topology.
type Node struct {
	ID   NodeID `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role,omitempty"`

	// Handle is an opaque reference to the simulation kernel's own node
	// object. The kernel owns it; the topology never dereferences it.
	Handle any `json:"-"`
}
