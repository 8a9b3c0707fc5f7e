// Package config persists scenario parameters as TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/trace"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/scenario"
)

var ErrInvalidConfig = errors.New("invalid config")

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the persisted parameter set of one scenario.
type Config struct {
	Topology    Topology    `toml:"topology"`
	Schedule    Schedule    `toml:"schedule"`
	Trace       Trace       `toml:"trace"`
	AddressPlan AddressPlan `toml:"address_plan"`
}

// Topology selects the shape and link parameters.
type Topology struct {
	Shape          string         `toml:"shape"`
	DataRate       model.DataRate `toml:"data_rate"`
	Delay          Duration       `toml:"delay"`
	SharedSegments bool           `toml:"shared_segments"`
	SpokeCount     int            `toml:"spoke_count"`
	TreeDepth      int            `toml:"tree_depth"`
	TreeFanout     int            `toml:"tree_fanout"`
	UECount        int            `toml:"ue_count"`
	WiredServers   int            `toml:"wired_servers"`
}

// Command is a binary plus its argument template; "{peer}" marks the
// peer address slot.
type Command struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`
}

// Schedule holds timing and contact policy.
type Schedule struct {
	Policy        scenario.Policy `toml:"policy"`
	Target        int             `toml:"target"`
	Instances     int             `toml:"instances"`
	ServerStart   Duration        `toml:"server_start"`
	ServerStagger Duration        `toml:"server_stagger"`
	ServerRunFor  Duration        `toml:"server_run_for"`
	ClientStart   Duration        `toml:"client_start"`
	ClientStagger Duration        `toml:"client_stagger"`
	ClientRunFor  Duration        `toml:"client_run_for"`
	Duration      Duration        `toml:"duration"`
	Server        Command         `toml:"server"`
	Client        Command         `toml:"client"`
}

// Trace selects recorded output.
type Trace struct {
	Pcap   bool   `toml:"pcap"`
	Ascii  bool   `toml:"ascii"`
	Radio  bool   `toml:"radio"`
	Dir    string `toml:"dir"`
	Prefix string `toml:"prefix"`
}

// AddressPlan mirrors core.AddressPlan.
type AddressPlan struct {
	Wired            netip.Prefix `toml:"wired"`
	Backhaul         netip.Prefix `toml:"backhaul"`
	Radio            netip.Prefix `toml:"radio"`
	PointToPointBits int          `toml:"point_to_point_bits"`
	SharedBits       int          `toml:"shared_bits"`
}

// Default returns the parameters of the point-to-point scenario.
func Default() Config {
	params := core.DefaultParameters()
	opts := scenario.DefaultOptions()
	plan := core.DefaultAddressPlan()
	return Config{
		Topology: Topology{
			Shape:      "p2p",
			DataRate:   params.DataRate,
			Delay:      Duration(params.Delay),
			SpokeCount: 4,
			TreeDepth:  2,
			TreeFanout: 2,
			UECount:    2,
		},
		Schedule: Schedule{
			Policy:        opts.Policy,
			Instances:     opts.Instances,
			ServerStart:   Duration(opts.Timing.ServerStart),
			ServerStagger: Duration(opts.Timing.ServerStagger),
			ServerRunFor:  Duration(opts.Timing.ServerRunFor),
			ClientStart:   Duration(opts.Timing.ClientStart),
			ClientStagger: Duration(opts.Timing.ClientStagger),
			ClientRunFor:  Duration(opts.Timing.ClientRunFor),
			Duration:      Duration(opts.Timing.Duration),
			Server:        Command{Binary: opts.Server.Binary, Args: opts.Server.Strings()},
			Client:        Command{Binary: opts.Client.Binary, Args: opts.Client.Strings()},
		},
		Trace: Trace{Dir: "."},
		AddressPlan: AddressPlan{
			Wired:            plan.Wired,
			Backhaul:         plan.Backhaul,
			Radio:            plan.Radio,
			PointToPointBits: plan.PointToPointBits,
			SharedBits:       plan.SharedBits,
		},
	}
}

// Decode reads TOML from r on top of Default. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Encode writes cfg as TOML.
func (c Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Save writes cfg to path, replacing any existing file.
func (c Config) Save(path string) error {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks values that can be judged without building the
// topology. Sizing is validated by the builder.
func (c Config) Validate() error {
	if _, err := core.ParseShape(c.Topology.Shape, c.sizing()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Topology.DataRate == 0 {
		return fmt.Errorf("%w: topology.data_rate must be positive", ErrInvalidConfig)
	}
	if c.Topology.Delay < 0 {
		return fmt.Errorf("%w: topology.delay is negative", ErrInvalidConfig)
	}
	if c.Schedule.Server.Binary == "" || c.Schedule.Client.Binary == "" {
		return fmt.Errorf("%w: schedule.server and schedule.client need a binary", ErrInvalidConfig)
	}
	if c.Schedule.Instances < 0 {
		return fmt.Errorf("%w: schedule.instances is negative", ErrInvalidConfig)
	}
	if _, err := core.NewAddressAllocator(c.CoreAddressPlan()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) sizing() core.Sizing {
	return core.Sizing{
		Spokes:       c.Topology.SpokeCount,
		TreeDepth:    c.Topology.TreeDepth,
		TreeFanout:   c.Topology.TreeFanout,
		UEs:          c.Topology.UECount,
		WiredServers: c.Topology.WiredServers,
	}
}

// TopologySpec translates the topology section into a builder request.
func (c Config) TopologySpec() (core.Spec, error) {
	shape, err := core.ParseShape(c.Topology.Shape, c.sizing())
	if err != nil {
		return core.Spec{}, err
	}
	return core.Spec{
		Shape: shape,
		Parameters: core.Parameters{
			DataRate:       c.Topology.DataRate,
			Delay:          time.Duration(c.Topology.Delay),
			SharedSegments: c.Topology.SharedSegments,
		},
	}, nil
}

// CoreAddressPlan translates the address plan section.
func (c Config) CoreAddressPlan() core.AddressPlan {
	return core.AddressPlan{
		Wired:            c.AddressPlan.Wired,
		Backhaul:         c.AddressPlan.Backhaul,
		Radio:            c.AddressPlan.Radio,
		PointToPointBits: c.AddressPlan.PointToPointBits,
		SharedBits:       c.AddressPlan.SharedBits,
	}
}

// ScenarioOptions translates the schedule section.
func (c Config) ScenarioOptions() scenario.Options {
	s := c.Schedule
	return scenario.Options{
		Server: scenario.Template{Binary: s.Server.Binary, Args: scenario.Tokens(s.Server.Args...)},
		Client: scenario.Template{Binary: s.Client.Binary, Args: scenario.Tokens(s.Client.Args...)},
		Timing: scenario.Timing{
			ServerStart:   time.Duration(s.ServerStart),
			ServerStagger: time.Duration(s.ServerStagger),
			ServerRunFor:  time.Duration(s.ServerRunFor),
			ClientStart:   time.Duration(s.ClientStart),
			ClientStagger: time.Duration(s.ClientStagger),
			ClientRunFor:  time.Duration(s.ClientRunFor),
			Duration:      time.Duration(s.Duration),
		},
		Policy:    s.Policy,
		Target:    s.Target,
		Instances: s.Instances,
	}
}

// TraceOptions translates the trace section.
func (c Config) TraceOptions() trace.Options {
	return trace.Options{
		Pcap:   c.Trace.Pcap,
		Ascii:  c.Trace.Ascii,
		Radio:  c.Trace.Radio,
		Dir:    c.Trace.Dir,
		Prefix: c.Trace.Prefix,
	}
}
