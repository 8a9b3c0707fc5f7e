// Command simulator builds substation automation scenarios: it lays out a
// topology, addresses it, schedules IEC 61850 server and client tasks and
// optionally executes them on the reference kernel.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/substation-sim/internal/config"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/scenario"
)

func main() {
	cmd := newRootCmd(filepath.Base(os.Args[0]), logging.NewFromEnv())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(use string, log logging.Logger) *cobra.Command {
	flags := &scenarioFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: "Substation automation scenario builder",
		Long: `Builds a network topology (point-to-point, star, tree or cellular),
assigns IPv4 subnets to every link and schedules IEC 61850 server and client
tasks against it.
`,
		Args: cobra.NoArgs,
		// Errors are printed by main.
		SilenceErrors: true,
	}
	flags.register(cmd.PersistentFlags())

	cmd.AddCommand(
		newPlanCmd(flags, log),
		newRunCmd(flags, log),
		newConfigCmd(flags),
	)
	return cmd
}

// scenarioFlags are shared by every subcommand. Only flags set on the
// command line override the loaded config.
type scenarioFlags struct {
	configIn  string
	configOut string

	shape          string
	dataRate       string
	delay          time.Duration
	sharedSegments bool
	spokes         int
	treeDepth      int
	treeFanout     int
	ues            int
	wiredServers   int

	policy   string
	target   int
	duration time.Duration

	tracing      bool
	pcapTracing  bool
	asciiTracing bool
	radioTracing bool
	filePrefix   string
	traceDir     string
}

func (f *scenarioFlags) register(fs *pflag.FlagSet) {
	def := config.Default()
	fs.StringVar(&f.configIn, "config-file-in", "", "Load scenario parameters from this TOML file")
	fs.StringVar(&f.configOut, "config-file-out", "", "Save the effective scenario parameters to this TOML file")

	fs.StringVar(&f.shape, "shape", def.Topology.Shape, "Topology shape (p2p|star|tree|cellular)")
	fs.StringVar(&f.dataRate, "data-rate", def.Topology.DataRate.String(), "Wired link data rate")
	fs.DurationVar(&f.delay, "delay", time.Duration(def.Topology.Delay), "Wired link propagation delay")
	fs.BoolVar(&f.sharedSegments, "shared-segments", false, "Address star leaves from shared /24 segments")
	fs.IntVar(&f.spokes, "spoke-count", def.Topology.SpokeCount, "Number of star spokes")
	fs.IntVar(&f.treeDepth, "tree-depth", def.Topology.TreeDepth, "Tree depth")
	fs.IntVar(&f.treeFanout, "tree-fanout", def.Topology.TreeFanout, "Tree fan-out per router")
	fs.IntVar(&f.ues, "ue-count", def.Topology.UECount, "Number of UEs on the cellular base station")
	fs.IntVar(&f.wiredServers, "wired-servers", def.Topology.WiredServers,
		"Number of wired servers behind the remote host of a cellular topology")

	fs.StringVar(&f.policy, "policy", def.Schedule.Policy.String(), "Client contact policy (all|one)")
	fs.IntVar(&f.target, "target", def.Schedule.Target, "Server index contacted under the 'one' policy")
	fs.DurationVar(&f.duration, "duration", time.Duration(def.Schedule.Duration),
		"Scenario duration; zero runs until the last task")

	fs.BoolVar(&f.tracing, "tracing", false, "Enable pcap tracing")
	fs.BoolVar(&f.pcapTracing, "pcap-tracing", false, "Write per node and link pcap files")
	fs.BoolVar(&f.asciiTracing, "ascii-tracing", false, "Write an ASCII trace file")
	fs.BoolVar(&f.radioTracing, "radio-tracing", false, "Also trace radio links")
	fs.StringVar(&f.filePrefix, "file-prefix", "", "Trace file prefix (defaults to the shape name)")
	fs.StringVar(&f.traceDir, "trace-dir", def.Trace.Dir, "Trace output directory")
}

// load resolves the effective config: the config file (or defaults), then
// every flag set on the command line. The result is saved when
// --config-file-out is given.
func (f *scenarioFlags) load(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.configIn != "" {
		loaded, err := config.Load(f.configIn)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if fs.Changed("shape") {
		cfg.Topology.Shape = f.shape
	}
	if fs.Changed("data-rate") {
		rate, err := model.ParseDataRate(f.dataRate)
		if err != nil {
			return config.Config{}, fmt.Errorf("--data-rate: %w", err)
		}
		cfg.Topology.DataRate = rate
	}
	if fs.Changed("delay") {
		cfg.Topology.Delay = config.Duration(f.delay)
	}
	if fs.Changed("shared-segments") {
		cfg.Topology.SharedSegments = f.sharedSegments
	}
	if fs.Changed("spoke-count") {
		cfg.Topology.SpokeCount = f.spokes
	}
	if fs.Changed("tree-depth") {
		cfg.Topology.TreeDepth = f.treeDepth
	}
	if fs.Changed("tree-fanout") {
		cfg.Topology.TreeFanout = f.treeFanout
	}
	if fs.Changed("ue-count") {
		cfg.Topology.UECount = f.ues
	}
	if fs.Changed("wired-servers") {
		cfg.Topology.WiredServers = f.wiredServers
	}
	if fs.Changed("policy") {
		p, err := scenario.ParsePolicy(f.policy)
		if err != nil {
			return config.Config{}, fmt.Errorf("--policy: %w", err)
		}
		cfg.Schedule.Policy = p
	}
	if fs.Changed("target") {
		cfg.Schedule.Target = f.target
	}
	if fs.Changed("duration") {
		cfg.Schedule.Duration = config.Duration(f.duration)
	}
	if fs.Changed("tracing") || fs.Changed("pcap-tracing") {
		cfg.Trace.Pcap = f.tracing || f.pcapTracing
	}
	if fs.Changed("ascii-tracing") {
		cfg.Trace.Ascii = f.asciiTracing
	}
	if fs.Changed("radio-tracing") {
		cfg.Trace.Radio = f.radioTracing
	}
	if fs.Changed("file-prefix") {
		cfg.Trace.Prefix = f.filePrefix
	}
	if fs.Changed("trace-dir") {
		cfg.Trace.Dir = f.traceDir
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if f.configOut != "" {
		if err := cfg.Save(f.configOut); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}
