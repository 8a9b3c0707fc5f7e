package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SCENARIO_TRACING_ENABLED", "true")
	t.Setenv("SCENARIO_TRACING_EXPORTER", "OTLP")
	t.Setenv("SCENARIO_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SCENARIO_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("TracingConfigFromEnv = %+v", cfg)
	}
	if cfg.ServiceName != "substation-sim" {
		t.Fatalf("ServiceName = %q, want substation-sim", cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("SCENARIO_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("SampleRatio = %v, want 1", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Fatalf("err = %v, want ErrUnknownExporter", err)
	}
}

func TestSamplerFollowsRatio(t *testing.T) {
	for _, tc := range []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{0, "TraceIDRatioBased{0}"},
	} {
		if got := sampler(tc.ratio).Description(); !strings.Contains(got, tc.want) {
			t.Errorf("sampler(%v) = %s, want root %s", tc.ratio, got, tc.want)
		}
	}
}

func TestStartSpanRecordsErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "scenario.build", attribute.String("shape", "star"))
	EndSpan(span, errors.New("boom"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "scenario.build" || ended[0].Status().Code != codes.Error {
		t.Fatalf("span = %s status %v", ended[0].Name(), ended[0].Status())
	}
}
