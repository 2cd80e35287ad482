package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "nexus/backend/internal/services"

// telemetry holds the tracer and instruments used by the workflow service.
// Instruments come from the global providers, which are no-ops unless the
// process installs an exporter.
type telemetry struct {
	tracer          trace.Tracer
	runs            metric.Int64Counter
	taskFailures    metric.Int64Counter
	persistFailures metric.Int64Counter
	duration        metric.Float64Histogram
}

func newTelemetry(logger Logger) *telemetry {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	t := &telemetry{tracer: otel.Tracer(instrumentationName)}

	var err error
	if t.runs, err = meter.Int64Counter("nexus.workflow.runs",
		metric.WithDescription("Workflow runs by outcome")); err != nil {
		logger.Warn("failed to create metric", "name", "nexus.workflow.runs", "error", err)
		t.runs, _ = fallback.Int64Counter("nexus.workflow.runs")
	}
	if t.taskFailures, err = meter.Int64Counter("nexus.workflow.task.failures",
		metric.WithDescription("Agent tasks recorded as failed")); err != nil {
		logger.Warn("failed to create metric", "name", "nexus.workflow.task.failures", "error", err)
		t.taskFailures, _ = fallback.Int64Counter("nexus.workflow.task.failures")
	}
	if t.persistFailures, err = meter.Int64Counter("nexus.workflow.persist.failures",
		metric.WithDescription("Completed workflows that could not be stored")); err != nil {
		logger.Warn("failed to create metric", "name", "nexus.workflow.persist.failures", "error", err)
		t.persistFailures, _ = fallback.Int64Counter("nexus.workflow.persist.failures")
	}
	if t.duration, err = meter.Float64Histogram("nexus.workflow.duration",
		metric.WithDescription("Wall-clock fan-out duration"), metric.WithUnit("s")); err != nil {
		logger.Warn("failed to create metric", "name", "nexus.workflow.duration", "error", err)
		t.duration, _ = fallback.Float64Histogram("nexus.workflow.duration")
	}
	return t
}
