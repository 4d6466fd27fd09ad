package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed metric series, so they must stay bounded:
// operation names, status values, engine names and component names only.
// Content hashes, titles, URLs and destination paths belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

// InstrumentOperation instruments a generic operation with a span.
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
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", statusOf(err)),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentEngineOperation instruments torrent engine operations.
func (t *Telemetry) InstrumentEngineOperation(ctx context.Context, engine, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "engine_"+operation, "engine", func(ctx context.Context) error {
		if t.tracer == nil {
			return fn(ctx)
		}

		ctx, span := t.tracer.Start(ctx, "engine_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("engine.type", engine),
			attribute.String("engine.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordEngineOperation(ctx, engine, operation, statusOf(err))

	return err
}

// InstrumentScrape instruments an HTTP scrape of the torrent index.
func (t *Telemetry) InstrumentScrape(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "scrape_"+operation, "discovery", fn)

	t.RecordScrape(ctx, operation, statusOf(err), time.Since(start))

	return err
}
