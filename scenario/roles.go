package scenario

import (
	"fmt"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/model"
)

// RoleAssignment maps nodes to the application role they play. Nodes
// absent from the map play no role.
type RoleAssignment map[model.NodeID]model.Role

// DefaultRoles derives an assignment from the role tags the builder put
// on each node.
func DefaultRoles(topo *core.Topology) RoleAssignment {
	roles := make(RoleAssignment)
	for _, n := range topo.Nodes() {
		if n.Role == model.RoleServer || n.Role == model.RoleClient {
			roles[n.ID] = n.Role
		}
	}
	return roles
}

// split returns servers and clients in node creation order.
func (r RoleAssignment) split(topo *core.Topology) (servers, clients []model.NodeID, err error) {
	for id, role := range r {
		if _, ok := topo.Node(id); !ok {
			return nil, nil, fmt.Errorf("%w: %s is not in the topology", ErrInvalidRoleAssignment, id)
		}
		switch role {
		case model.RoleServer, model.RoleClient, model.RoleUnassigned:
		default:
			return nil, nil, fmt.Errorf("%w: %s cannot play %q", ErrInvalidRoleAssignment, id, role)
		}
	}
	for _, n := range topo.Nodes() {
		switch r[n.ID] {
		case model.RoleServer:
			servers = append(servers, n.ID)
		case model.RoleClient:
			clients = append(clients, n.ID)
		}
	}
	return servers, clients, nil
}
