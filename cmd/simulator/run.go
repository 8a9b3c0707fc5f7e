package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/substation-sim/core"
	"github.com/signalsfoundry/substation-sim/internal/kernel"
	"github.com/signalsfoundry/substation-sim/internal/logging"
	"github.com/signalsfoundry/substation-sim/internal/observability"
	"github.com/signalsfoundry/substation-sim/internal/trace"
	"github.com/signalsfoundry/substation-sim/model"
	"github.com/signalsfoundry/substation-sim/timectrl"
)

// clientPortBase is the first ephemeral source port used by client
// instances in trace frames.
const clientPortBase = 49152

func newRunCmd(sf *scenarioFlags, log logging.Logger) *cobra.Command {
	var flags struct {
		realTime    bool
		tick        time.Duration
		metricsAddr string
	}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, schedule and execute a scenario on the reference kernel",
		Long: `'run' builds and schedules the scenario, attaches the requested traces and
walks simulated time, launching and stopping every task as it falls due.
Tasks are launched by a dry-run launcher that logs each transition and
records a marker frame for every client session in the trace files.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sf.load(cmd.Flags())
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, runLog := logging.WithRunLogger(ctx, log)

			shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), runLog)
			if err != nil {
				return err
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, runLog)

			metrics, err := observability.NewScenarioCollector(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			if srv := serveMetrics(ctx, flags.metricsAddr, metrics, runLog); srv != nil {
				defer srv.Shutdown(context.Background())
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

			rec := trace.Attach(ctx, topo, cfg.TraceOptions())
			mode := timectrl.Accelerated
			if flags.realTime {
				mode = timectrl.RealTime
			}
			runner := kernel.NewRunner(
				kernel.NewDryRunLauncher(runLog, markerTap(topo, rec)),
				kernel.WithLogger(runLog),
				kernel.WithMetricsRecorder(metrics),
				kernel.WithMode(mode),
				kernel.WithTick(flags.tick),
			)

			ctx, span := observability.StartSpan(ctx, "scenario.run")
			start := time.Now()
			report, runErr := runner.Run(ctx, topo, tasks, p.cfg.ScenarioOptions().Timing.Duration)
			metrics.ObserveStage("run", time.Since(start))
			if runErr != nil {
				metrics.RecordFailure("run", errorKind(runErr))
			}
			observability.EndSpan(span, runErr)

			if err := rec.Close(); err != nil {
				runErr = errors.Join(runErr, err)
			}
			if runErr != nil {
				return runErr
			}
			printReport(cmd.OutOrStdout(), report, rec.Files())
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.realTime, "real-time", false, "Advance simulated time with the wall clock")
	cmd.Flags().DurationVar(&flags.tick, "tick", 100*time.Millisecond, "Simulated time step")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"HTTP address for Prometheus /metrics (disabled when empty)")
	return cmd
}

// markerTap writes one UDP frame per client session into the trace of the
// client's first link, addressed to the session's peer.
func markerTap(topo *core.Topology, rec *trace.Recorder) kernel.Tap {
	return func(ctx context.Context, at time.Duration, node model.Node, task model.Task) error {
		if task.Role != model.RoleClient {
			return nil
		}
		links := topo.LinksOf(node.ID)
		if len(links) == 0 {
			return nil
		}
		l := links[0]
		if !l.AddrOf(node.ID).IsValid() {
			return nil
		}
		sink, err := rec.Sink(l.ID, node.ID)
		if err != nil {
			return err
		}
		src := netip.AddrPortFrom(l.AddrOf(node.ID), uint16(clientPortBase+task.Instance))
		for _, a := range task.Args {
			if a.Kind != model.ArgPeerAddr {
				continue
			}
			peer, err := netip.ParseAddr(a.Value)
			if err != nil {
				return fmt.Errorf("peer address %q: %w", a.Value, err)
			}
			frame, err := trace.Frame(l.Kind, src, netip.AddrPortFrom(peer, trace.MMSPort), []byte(task.Binary))
			if err != nil {
				return err
			}
			if err := sink.Write(at, frame); err != nil {
				return err
			}
		}
		return nil
	}
}

func serveMetrics(ctx context.Context, addr string, metrics *observability.ScenarioCollector, log logging.Logger) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()
	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printReport(w io.Writer, r kernel.Report, files []string) {
	fmt.Fprintf(w, "started %d, stopped %d, skipped %d, failed %d, end %s\n",
		r.Started, r.Stopped, r.Skipped, r.Failed, r.End)
	for _, f := range files {
		fmt.Fprintf(w, "trace %s\n", f)
	}
}
