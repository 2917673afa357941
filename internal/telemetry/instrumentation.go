package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attributes here stay bounded on purpose: service names,
// operation names and statuses only. Snapshot file names, URLs and run IDs
// are unbounded and belong in logs, never in metric attributes, or every
// month of the corpus becomes its own time series.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span and stamps it with component,
// status and duration.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentFetch wraps one snapshot retrieval: a span, the in-flight
// gauge, and the duration histogram keyed by service and status.
func (t *Telemetry) InstrumentFetch(ctx context.Context, service string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	if t.fetchesActive != nil {
		t.fetchesActive.Add(ctx, 1)
		defer t.fetchesActive.Add(ctx, -1)
	}

	start := time.Now()

	err := t.InstrumentOperation(ctx, "fetch_snapshot", "fetcher", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("service", service))

		return fn(ctx)
	})

	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	if t.fetchDuration != nil {
		t.fetchDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("service", service),
				attribute.String("status", status),
			),
		)
	}

	return err
}

// InstrumentLedgerOperation instruments run ledger operations.
func (t *Telemetry) InstrumentLedgerOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "ledger_"+operation, "ledger", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordLedgerOperation(operation, status, duration)

	return err
}
