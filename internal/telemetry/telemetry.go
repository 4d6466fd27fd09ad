package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

const otlpExportInterval = 30 * time.Second

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	scrapesTotal          metric.Int64Counter
	scrapeDuration        metric.Float64Histogram
	rowsSkipped           metric.Int64Counter
	candidatesFiltered    metric.Int64Counter
	transfersTotal        metric.Int64Counter
	transfersActive       metric.Int64UpDownCounter
	engineOperationsTotal metric.Int64Counter
	engineErrors          metric.Int64Counter
	dbOperationsTotal     metric.Int64Counter
	dbOperationDuration   metric.Float64Histogram

	// System health
	systemErrors metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
}

// New creates a new telemetry instance. A disabled configuration yields a
// Telemetry whose recording methods are no-ops.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(otlpExportInterval)),
		))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         meterProvider.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(ctx, 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight(ctx context.Context) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, -1)
	}
}

// RecordScrape records a listing or detail page scrape.
func (t *Telemetry) RecordScrape(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.scrapesTotal != nil {
		t.scrapesTotal.Add(ctx, 1, attrs)
	}

	if t.scrapeDuration != nil {
		t.scrapeDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordRowSkipped counts a listing row dropped because it could not be parsed.
func (t *Telemetry) RecordRowSkipped(ctx context.Context, reason string) {
	if t != nil && t.rowsSkipped != nil {
		t.rowsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordCandidateFiltered counts a listing row dropped by the trusted source filter.
func (t *Telemetry) RecordCandidateFiltered(ctx context.Context) {
	if t != nil && t.candidatesFiltered != nil {
		t.candidatesFiltered.Add(ctx, 1)
	}
}

// RecordTransfer records transfer lifecycle metrics.
func (t *Telemetry) RecordTransfer(ctx context.Context, operation, status string) {
	if t != nil && t.transfersTotal != nil {
		t.transfersTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementActiveTransfers increments active transfers counter.
func (t *Telemetry) IncrementActiveTransfers(ctx context.Context) {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(ctx, 1)
	}
}

// DecrementActiveTransfers decrements active transfers counter.
func (t *Telemetry) DecrementActiveTransfers(ctx context.Context) {
	if t != nil && t.transfersActive != nil {
		t.transfersActive.Add(ctx, -1)
	}
}

// RecordEngineOperation records torrent engine operation metrics.
func (t *Telemetry) RecordEngineOperation(ctx context.Context, engine, operation, status string) {
	if t == nil {
		return
	}

	if t.engineOperationsTotal != nil {
		t.engineOperationsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("engine", engine),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if status == "error" && t.engineErrors != nil {
		t.engineErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("engine", engine),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordDBOperation records ledger operation metrics.
func (t *Telemetry) RecordDBOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeBusinessMetrics(); err != nil {
		return err
	}

	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.scrapesTotal, err = t.meter.Int64Counter(
		"scrapes_total",
		metric.WithDescription("Total number of listing and detail page scrapes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create scrapes_total counter: %w", err)
	}

	t.scrapeDuration, err = t.meter.Float64Histogram(
		"scrape_duration_seconds",
		metric.WithDescription("Scrape duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create scrape_duration histogram: %w", err)
	}

	t.rowsSkipped, err = t.meter.Int64Counter(
		"listing_rows_skipped_total",
		metric.WithDescription("Listing rows skipped because they could not be parsed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create listing_rows_skipped counter: %w", err)
	}

	t.candidatesFiltered, err = t.meter.Int64Counter(
		"candidates_filtered_total",
		metric.WithDescription("Listing rows dropped because their source is not trusted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create candidates_filtered counter: %w", err)
	}

	t.transfersTotal, err = t.meter.Int64Counter(
		"transfers_total",
		metric.WithDescription("Total number of transfer lifecycle events"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_total counter: %w", err)
	}

	t.transfersActive, err = t.meter.Int64UpDownCounter(
		"transfers_active",
		metric.WithDescription("Number of running transfers"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transfers_active counter: %w", err)
	}

	t.engineOperationsTotal, err = t.meter.Int64Counter(
		"engine_operations_total",
		metric.WithDescription("Total number of torrent engine operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine_operations_total counter: %w", err)
	}

	t.engineErrors, err = t.meter.Int64Counter(
		"engine_errors_total",
		metric.WithDescription("Total number of torrent engine errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine_errors counter: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of ledger operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Ledger operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}
