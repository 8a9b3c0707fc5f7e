package scenario

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/model"
)

func buildTopo(t testing.TB, shape core.Shape) *core.Topology {
	t.Helper()
	topo, err := core.NewBuilder(nil).Build(context.Background(), core.Spec{Shape: shape, Parameters: core.DefaultParameters()})
	if err != nil {
		t.Fatalf("Build(%s): %v", shape.Name(), err)
	}
	return topo
}

func TestSchedulePointToPoint(t *testing.T) {
	topo := buildTopo(t, core.PointToPoint{})

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), DefaultOptions())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2: %v", len(tasks), tasks)
	}
	server, client := tasks[0], tasks[1]
	if server.Role != model.RoleServer || client.Role != model.RoleClient {
		t.Fatalf("task roles = %s, %s; want server, client", server.Role, client.Role)
	}
	if !(server.Start < client.Start) {
		t.Fatalf("server start %s not before client start %s", server.Start, client.Start)
	}
	if len(server.Peers()) != 0 {
		t.Fatalf("server task has peer args: %v", server.Args)
	}
	argv := client.Argv()
	if got := argv[len(argv)-1]; got != "10.1.1.1" {
		t.Fatalf("client peer arg = %q, want 10.1.1.1", got)
	}
	if client.Stop == nil || *client.Stop != 5*time.Second {
		t.Fatalf("client stop = %v, want 5s", client.Stop)
	}
	if server.Stop == nil || *server.Stop != 30*time.Second {
		t.Fatalf("server stop = %v, want 30s", server.Stop)
	}
}

func TestScheduleStarContactsAllServers(t *testing.T) {
	topo := buildTopo(t, core.Star{Spokes: 4})

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), DefaultOptions())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	var servers, clients []model.Task
	for _, task := range tasks {
		switch task.Role {
		case model.RoleServer:
			servers = append(servers, task)
		case model.RoleClient:
			clients = append(clients, task)
		}
	}
	if len(servers) != 3 || len(clients) != 3 {
		t.Fatalf("got %d server / %d client tasks, want 3 / 3", len(servers), len(clients))
	}

	var latestServer time.Duration
	for _, s := range servers {
		if s.Start > latestServer {
			latestServer = s.Start
		}
	}
	var peers []string
	for _, c := range clients {
		if c.Start < latestServer {
			t.Fatalf("client task %s starts before server start %s", c, latestServer)
		}
		if c.Node != 4 {
			t.Fatalf("client task on %s, want the last spoke n4", c.Node)
		}
		argv := c.Argv()
		peers = append(peers, argv[len(argv)-1])
	}
	if diff := cmp.Diff([]string{"10.1.1.2", "10.1.2.2", "10.1.3.2"}, peers); diff != "" {
		t.Fatalf("client peers mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleContactOneTreeMatchesStaggeredScript(t *testing.T) {
	topo := buildTopo(t, core.Tree{Depth: 2, Fanout: 2})
	opts := DefaultOptions()
	opts.Policy = ContactOne
	opts.Target = 0
	opts.Timing = Timing{
		ServerStart:   2 * time.Second,
		ServerStagger: 2 * time.Second,
		ClientStart:   10 * time.Second,
		ClientRunFor:  2 * time.Second,
		Duration:      30 * time.Second,
	}

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), opts)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(tasks) != 5 {
		t.Fatalf("got %d tasks, want 5", len(tasks))
	}
	for i, want := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second} {
		if tasks[i].Start != want {
			t.Errorf("server %d start = %s, want %s", i, tasks[i].Start, want)
		}
		if tasks[i].Stop == nil || *tasks[i].Stop != 30*time.Second {
			t.Errorf("server %d stop = %v, want 30s", i, tasks[i].Stop)
		}
	}
	client := tasks[4]
	if argv := client.Argv(); argv[len(argv)-1] != "10.1.3.2" {
		t.Fatalf("client targets %v, want 10.1.3.2", argv)
	}
	if *client.Stop != 12*time.Second {
		t.Fatalf("client stop = %s, want 12s", *client.Stop)
	}
}

func TestScheduleCellularClientsReachUEs(t *testing.T) {
	topo := buildTopo(t, core.Cellular{UEs: 2})

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), DefaultOptions())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	var peers []string
	for _, task := range tasks {
		if task.Role == model.RoleClient {
			argv := task.Argv()
			peers = append(peers, argv[len(argv)-1])
		}
	}
	if diff := cmp.Diff([]string{"7.0.0.2", "7.0.0.3"}, peers); diff != "" {
		t.Fatalf("client peers mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleInstancesAndStagger(t *testing.T) {
	topo := buildTopo(t, core.Star{Spokes: 3})
	opts := DefaultOptions()
	opts.Instances = 2
	opts.Timing.ClientStagger = 500 * time.Millisecond

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), opts)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	var starts []time.Duration
	var instances []int
	for _, task := range tasks {
		if task.Role == model.RoleClient {
			starts = append(starts, task.Start)
			instances = append(instances, task.Instance)
		}
	}
	wantStarts := []time.Duration{3 * time.Second, 3500 * time.Millisecond, 4 * time.Second, 4500 * time.Millisecond}
	if diff := cmp.Diff(wantStarts, starts); diff != "" {
		t.Fatalf("client starts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 0, 1}, instances); diff != "" {
		t.Fatalf("instances mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduleClampsStopsToDuration(t *testing.T) {
	topo := buildTopo(t, core.PointToPoint{})
	opts := DefaultOptions()
	opts.Timing.ClientRunFor = 10 * time.Second
	opts.Timing.Duration = 4 * time.Second

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), opts)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	for _, task := range tasks {
		if task.Stop == nil || *task.Stop != 4*time.Second {
			t.Fatalf("%s stop = %v, want 4s", task, task.Stop)
		}
	}
}

func TestScheduleErrors(t *testing.T) {
	topo := buildTopo(t, core.Star{Spokes: 3})
	ctx := context.Background()

	cases := []struct {
		name  string
		roles RoleAssignment
		opts  func(*Options)
		want  error
	}{
		{
			name: "client before server",
			opts: func(o *Options) { o.Timing.ClientStart = 0 },
			want: ErrInvalidTiming,
		},
		{
			name: "client before staggered server",
			opts: func(o *Options) { o.Timing.ServerStagger = 5 * time.Second },
			want: ErrInvalidTiming,
		},
		{
			name: "negative run",
			opts: func(o *Options) { o.Timing.ClientRunFor = -time.Second },
			want: ErrInvalidTiming,
		},
		{
			name: "server template with peer",
			opts: func(o *Options) { o.Server.Args = Tokens("-p", PeerPlaceholder) },
			want: ErrInvalidTemplate,
		},
		{
			name: "empty client binary",
			opts: func(o *Options) { o.Client.Binary = "" },
			want: ErrInvalidTemplate,
		},
		{
			name: "target out of range",
			opts: func(o *Options) { o.Policy, o.Target = ContactOne, 7 },
			want: ErrUnresolvedPeerAddress,
		},
		{
			name:  "unknown node",
			roles: RoleAssignment{42: model.RoleServer},
			want:  ErrInvalidRoleAssignment,
		},
		{
			name:  "router role",
			roles: RoleAssignment{0: model.RoleRouter},
			want:  ErrInvalidRoleAssignment,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			if tc.opts != nil {
				tc.opts(&opts)
			}
			roles := tc.roles
			if roles == nil {
				roles = DefaultRoles(topo)
			}
			tasks, err := Schedule(ctx, topo, roles, opts)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if tasks != nil {
				t.Fatalf("tasks returned on error: %v", tasks)
			}
		})
	}
}

func TestScheduleClientWithoutPeerTemplate(t *testing.T) {
	topo := buildTopo(t, core.Star{Spokes: 3})
	opts := DefaultOptions()
	opts.Client = Template{Binary: "simple-iec61850-client", Args: Tokens("-p", "10102")}

	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), opts)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 2 servers + 1 client", len(tasks))
	}
}

func TestScheduleProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var shape core.Shape
		switch rapid.IntRange(0, 3).Draw(rt, "shape") {
		case 0:
			shape = core.PointToPoint{}
		case 1:
			shape = core.Star{Spokes: rapid.IntRange(1, 20).Draw(rt, "spokes")}
		case 2:
			shape = core.Tree{Depth: rapid.IntRange(1, 3).Draw(rt, "depth"), Fanout: rapid.IntRange(1, 3).Draw(rt, "fanout")}
		default:
			shape = core.Cellular{UEs: rapid.IntRange(1, 10).Draw(rt, "ues"), WiredServers: rapid.IntRange(0, 3).Draw(rt, "wired")}
		}
		topo, err := core.NewBuilder(nil).Build(context.Background(), core.Spec{Shape: shape, Parameters: core.DefaultParameters()})
		if err != nil {
			rt.Fatalf("Build: %v", err)
		}

		opts := DefaultOptions()
		opts.Instances = rapid.IntRange(1, 3).Draw(rt, "instances")
		opts.Timing.ClientStagger = time.Duration(rapid.IntRange(0, 1000).Draw(rt, "stagger")) * time.Millisecond

		tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), opts)
		if err != nil {
			rt.Fatalf("Schedule: %v", err)
		}

		again, err := core.NewBuilder(nil).Build(context.Background(), core.Spec{Shape: shape, Parameters: core.DefaultParameters()})
		if err != nil {
			rt.Fatalf("second Build: %v", err)
		}
		repeat, err := Schedule(context.Background(), again, DefaultRoles(again), opts)
		if err != nil {
			rt.Fatalf("second Schedule: %v", err)
		}
		if diff := cmp.Diff(tasks, repeat); diff != "" {
			rt.Fatalf("schedule not deterministic (-first +second):\n%s", diff)
		}

		for i := 1; i < len(tasks); i++ {
			prev, cur := tasks[i-1], tasks[i]
			if cur.Start < prev.Start || (cur.Start == prev.Start && cur.Node < prev.Node) {
				rt.Fatalf("tasks out of order at %d: %s then %s", i, prev, cur)
			}
		}
		for _, task := range tasks {
			for _, a := range task.Args {
				if a.Kind != model.ArgPeerAddr {
					continue
				}
				got, err := netip.ParseAddr(a.Value)
				if err != nil {
					rt.Fatalf("peer arg %q: %v", a.Value, err)
				}
				var owner *model.Link
				for _, l := range topo.LinksOf(a.Peer) {
					if l.AddrOf(a.Peer).IsValid() {
						owner = &l
						break
					}
				}
				if owner == nil {
					rt.Fatalf("peer %s has no addressed link", a.Peer)
				}
				if !owner.Subnet.Prefix.Contains(got) {
					rt.Fatalf("peer arg %s outside subnet %s of link %d", got, owner.Subnet, owner.ID)
				}
				if want := owner.AddrOf(a.Peer); got != want {
					rt.Fatalf("peer arg %s != address %s of %s on link %d", got, want, a.Peer, owner.ID)
				}
				if n, _ := topo.Node(a.Peer); n.Role != model.RoleServer {
					rt.Fatalf("peer %s has role %s, want server", a.Peer, n.Role)
				}
			}
		}
	})
}

func TestPlanRoundTrip(t *testing.T) {
	topo := buildTopo(t, core.Cellular{UEs: 2, WiredServers: 1})
	tasks, err := Schedule(context.Background(), topo, DefaultRoles(topo), DefaultOptions())
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	var buf bytes.Buffer
	if err := WritePlan(&buf, topo, tasks); err != nil {
		t.Fatalf("WritePlan: %v", err)
	}
	plan, err := ReadPlan(&buf)
	if err != nil {
		t.Fatalf("ReadPlan: %v", err)
	}
	if plan.Shape != "cellular" || plan.UEGateway.String() != "7.0.0.1" {
		t.Fatalf("plan header = %s %s", plan.Shape, plan.UEGateway)
	}
	if len(plan.Nodes) != len(topo.Nodes()) || len(plan.Links) != len(topo.Links()) {
		t.Fatalf("plan has %d nodes / %d links", len(plan.Nodes), len(plan.Links))
	}
	for i, l := range plan.Links {
		if l.Subnet != topo.Links()[i].Subnet || l.AddrB != topo.Links()[i].AddrB {
			t.Fatalf("link %d = %+v, want %+v", i, l, topo.Links()[i])
		}
	}
	if len(plan.Tasks) != len(tasks) {
		t.Fatalf("plan has %d tasks, want %d", len(plan.Tasks), len(tasks))
	}
	for i := range tasks {
		if plan.Tasks[i].String() != tasks[i].String() {
			t.Fatalf("task %d = %s, want %s", i, plan.Tasks[i], tasks[i])
		}
	}
}

func TestReadPlanRejectsUnknownVersion(t *testing.T) {
	if _, err := ReadPlan(bytes.NewBufferString(`{"version": 99}`)); err == nil {
		t.Fatalf("ReadPlan accepted version 99")
	}
}
