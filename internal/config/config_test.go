package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/scenario"
)

func TestDefaultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, Default(), got)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	in := `
[topology]
shape = "tree"
data_rate = "100Mbps"
delay = "1ms"
tree_depth = 2
tree_fanout = 2

[schedule]
policy = "one"
target = 0
server_start = "2s"
server_stagger = "2s"
client_start = "10s"
duration = "30s"

[trace]
pcap = true
prefix = "tree"
`
	cfg, err := Decode(strings.NewReader(in))
	require.NoError(t, err)

	spec, err := cfg.TopologySpec()
	require.NoError(t, err)
	require.Equal(t, core.Tree{Depth: 2, Fanout: 2}, spec.Shape)
	require.Equal(t, time.Millisecond, spec.Parameters.Delay)
	require.Equal(t, "100Mbps", spec.Parameters.DataRate.String())

	opts := cfg.ScenarioOptions()
	require.Equal(t, scenario.ContactOne, opts.Policy)
	require.Equal(t, 2*time.Second, opts.Timing.ServerStagger)
	require.Equal(t, 30*time.Second, opts.Timing.Duration)
	// untouched keys keep their defaults
	require.Equal(t, scenario.DefaultClientTemplate(), opts.Client)

	tr := cfg.TraceOptions()
	require.True(t, tr.Pcap)
	require.Equal(t, "tree", tr.Prefix)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"unknown key":   "[topology]\ncolour = \"red\"\n",
		"unknown shape": "[topology]\nshape = \"ring\"\n",
		"bad duration":  "[schedule]\nclient_start = \"soon\"\n",
		"bad policy":    "[schedule]\npolicy = \"some\"\n",
		"overlap":       "[address_plan]\nbackhaul = \"10.1.7.0/24\"\n",
		"no binary":     "[schedule.client]\nbinary = \"\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(in))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	cfg := Default()
	cfg.Topology.Shape = "cellular"
	cfg.Topology.UECount = 5
	cfg.Trace.Radio = true

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	spec, err := loaded.TopologySpec()
	require.NoError(t, err)
	require.Equal(t, core.Cellular{UEs: 5}, spec.Shape)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestDefaultMatchesPackageDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, scenario.DefaultOptions(), cfg.ScenarioOptions())
	require.Equal(t, core.DefaultAddressPlan(), cfg.CoreAddressPlan())
}
