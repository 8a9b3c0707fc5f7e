package model

import (
	"fmt"
	"strings"
	"time"
)

// ArgKind distinguishes literal arguments from resolved placeholders.
type ArgKind string

const (
	ArgLiteral  ArgKind = "literal"
	ArgPeerAddr ArgKind = "peer_addr"
)

// Arg is one element of a task's argument list. For ArgPeerAddr the
// Value holds the resolved address of node Peer.
type Arg struct {
	Kind  ArgKind `json:"kind"`
	Value string  `json:"value"`
	Peer  NodeID  `json:"peer,omitempty"`
}

// Task launches Binary on Node at Start and, when Stop is set, stops it
// at Stop. Times are offsets from the start of the simulation.
type Task struct {
	Binary   string         `json:"binary"`
	Args     []Arg          `json:"args"`
	Node     NodeID         `json:"node"`
	Role     Role           `json:"role"`
	Start    time.Duration  `json:"start"`
	Stop     *time.Duration `json:"stop,omitempty"`
	Instance int            `json:"instance"`
}

// Argv returns the argument values in order.
func (t Task) Argv() []string {
	out := make([]string, len(t.Args))
	for i, a := range t.Args {
		out[i] = a.Value
	}
	return out
}

// Peers returns the nodes referenced through peer placeholders.
func (t Task) Peers() []NodeID {
	var out []NodeID
	for _, a := range t.Args {
		if a.Kind == ArgPeerAddr {
			out = append(out, a.Peer)
		}
	}
	return out
}

func (t Task) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s start=%s", t.Binary, t.Node, t.Start)
	if t.Stop != nil {
		fmt.Fprintf(&b, " stop=%s", *t.Stop)
	}
	if len(t.Args) > 0 {
		b.WriteString(" args=")
		b.WriteString(strings.Join(t.Argv(), " "))
	}
	return b.String()
}
