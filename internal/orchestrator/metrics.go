package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/paw2paw/hf-pipeline/orchestrator"

var (
	metricsOnce  sync.Once
	runCounter   otelmetric.Int64Counter
	specCounter  otelmetric.Int64Counter
	writeCounter otelmetric.Int64Counter
)

// initMetrics creates the counters. A counter that fails to register stays nil
// and its record call becomes a no-op.
func initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	if runCounter, err = meter.Int64Counter("pipeline_runs_total",
		otelmetric.WithDescription("Pipeline runs by outcome")); err != nil {
		slog.Default().Warn("metric registration failed", "metric", "pipeline_runs_total", "error", err)
	}
	if specCounter, err = meter.Int64Counter("pipeline_spec_decisions_total",
		otelmetric.WithDescription("Spec decisions by output type and decision")); err != nil {
		slog.Default().Warn("metric registration failed", "metric", "pipeline_spec_decisions_total", "error", err)
	}
	if writeCounter, err = meter.Int64Counter("pipeline_writes_total",
		otelmetric.WithDescription("Attribute and target writes")); err != nil {
		slog.Default().Warn("metric registration failed", "metric", "pipeline_writes_total", "error", err)
	}
}

func recordRun(ctx context.Context, outcome string) {
	metricsOnce.Do(initMetrics)
	if runCounter != nil {
		runCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func recordSpec(ctx context.Context, outputType, decision string) {
	metricsOnce.Do(initMetrics)
	if specCounter != nil {
		specCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("output_type", outputType),
			attribute.String("decision", decision),
		))
	}
}

func recordWrites(ctx context.Context, kind string, n int) {
	metricsOnce.Do(initMetrics)
	if writeCounter != nil && n > 0 {
		writeCounter.Add(ctx, int64(n), otelmetric.WithAttributes(attribute.String("kind", kind)))
	}
}
