package main

import (
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/internal/observability"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/scenario"
)

func newPlanCmd(sf *scenarioFlags, log logging.Logger) *cobra.Command {
	var flags struct {
		json bool
	}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build a topology and print its task schedule",
		Long: `'plan' builds and addresses the topology, schedules server and client
tasks and prints them as a table. With --json the complete resolved plan
(nodes, links, subnets and tasks) is written for an external kernel.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, runLog := logging.WithRunLogger(cmd.Context(), log)
			metrics, err := observability.NewScenarioCollector(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			p := &pipeline{cfg: cfg, metrics: metrics}
			topo, err := p.build(ctx)
			if err != nil {
				return err
			}
			tasks, err := p.schedule(ctx, topo)
			if err != nil {
				return err
			}
			runLog.Debug(ctx, "plan ready", logging.Int("tasks", len(tasks)))

			if flags.json {
				return scenario.WritePlan(cmd.OutOrStdout(), topo, tasks)
			}
			renderLinks(cmd.OutOrStdout(), topo)
			fmt.Fprintln(cmd.OutOrStdout())
			renderTasks(cmd.OutOrStdout(), topo, tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "Write the resolved plan as JSON")
	return cmd
}

func renderLinks(w io.Writer, topo *core.Topology) {
	table := newTable(w, []string{"Link", "Kind", "A", "B", "Subnet", "Rate", "Delay"})
	for _, l := range topo.Links() {
		table.Append([]string{
			fmt.Sprint(l.ID),
			string(l.Kind),
			endpoint(topo, l.A, l.AddrA),
			endpoint(topo, l.B, l.AddrB),
			l.Subnet.String(),
			l.DataRate.String(),
			l.Delay.String(),
		})
	}
	table.Render()
}

func renderTasks(w io.Writer, topo *core.Topology, tasks []model.Task) {
	table := newTable(w, []string{"Start", "Stop", "Node", "Role", "Command"})
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		stop := "-"
		if t.Stop != nil {
			stop = t.Stop.String()
		}
		rows = append(rows, []string{
			t.Start.String(),
			stop,
			nodeName(topo, t.Node),
			string(t.Role),
			strings.Join(append([]string{t.Binary}, t.Argv()...), " "),
		})
	}
	table.AppendBulk(rows)
	table.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func nodeName(topo *core.Topology, id model.NodeID) string {
	if n, ok := topo.Node(id); ok {
		return n.Name
	}
	return id.String()
}

func endpoint(topo *core.Topology, id model.NodeID, addr netip.Addr) string {
	if !addr.IsValid() {
		return nodeName(topo, id)
	}
	return nodeName(topo, id) + " " + addr.String()
}
