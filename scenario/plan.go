package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/model"
)

// PlanVersion is bumped whenever the plan document changes shape.
const PlanVersion = 1

// Plan is the resolved scenario handed to an external kernel.
type Plan struct {
	Version   int          `json:"version"`
	Shape     string       `json:"shape"`
	UEGateway netip.Addr   `json:"ue_gateway,omitzero"`
	Nodes     []model.Node `json:"nodes"`
	Links     []model.Link `json:"links"`
	Tasks     []model.Task `json:"tasks"`
}

// NewPlan snapshots topo and tasks.
func NewPlan(topo *core.Topology, tasks []model.Task) Plan {
	return Plan{
		Version:   PlanVersion,
		Shape:     topo.Shape(),
		UEGateway: topo.UEGateway(),
		Nodes:     topo.Nodes(),
		Links:     topo.Links(),
		Tasks:     tasks,
	}
}

// WritePlan encodes the plan for topo and tasks as indented JSON.
func WritePlan(w io.Writer, topo *core.Topology, tasks []model.Task) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewPlan(topo, tasks)); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return nil
}

// ReadPlan decodes a plan written by WritePlan.
func ReadPlan(r io.Reader) (Plan, error) {
	var p Plan
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if p.Version != PlanVersion {
		return Plan{}, fmt.Errorf("decode plan: unsupported version %d", p.Version)
	}
	return p, nil
}
