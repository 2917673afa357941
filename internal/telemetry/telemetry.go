package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"

	"github.com/mfreitas/tlc_ingest/internal/sysinfo"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter
	stagingRoot   string

	// RED metrics for the ops listener
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Ingest metrics
	outcomesTotal      metric.Int64Counter
	fetchAttemptsTotal metric.Int64Counter
	fetchBytesTotal    metric.Int64Counter
	fetchDuration      metric.Float64Histogram
	fetchesActive      metric.Int64UpDownCounter

	// Ledger metrics
	ledgerOperationsTotal   metric.Int64Counter
	ledgerOperationDuration metric.Float64Histogram

	// System health
	memoryUsage      metric.Int64Gauge
	goroutineCount   metric.Int64Gauge
	stagingFreeBytes metric.Int64Gauge
	systemUptime     metric.Float64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint enables a periodic gRPC push of metrics alongside the
	// Prometheus pull endpoint. Batch runs are often shorter than a scrape
	// interval, so push is how their metrics survive.
	OTLPEndpoint string

	// StagingRoot, when set, feeds the staging free-space gauge.
	StagingRoot string
}

// New creates a new telemetry instance. When disabled, every method on the
// returned value is a no-op.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		// The global providers default to no-ops, so spans and metric
		// records cost nothing but every call path stays valid.
		return &Telemetry{
			tracer: otel.Tracer(cfg.ServiceName),
			meter:  otel.Meter(cfg.ServiceName),
		}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		pushExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(pushExporter, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	if err := otelruntime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
		stagingRoot:   cfg.StagingRoot,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records ops listener request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordOutcome counts one settled descriptor by status and, for failures,
// by class.
func (t *Telemetry) RecordOutcome(status, class string) {
	if t == nil || t.outcomesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("status", status)}
	if class != "" {
		attrs = append(attrs, attribute.String("class", class))
	}

	t.outcomesTotal.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordFetched records the attempt and byte cost of one retrieval,
// successful or not.
func (t *Telemetry) RecordFetched(ctx context.Context, service string, attempts int, bytes int64) {
	if t == nil {
		return
	}

	if t.fetchAttemptsTotal != nil && attempts > 0 {
		t.fetchAttemptsTotal.Add(ctx, int64(attempts),
			metric.WithAttributes(attribute.String("service", service)),
		)
	}

	if t.fetchBytesTotal != nil && bytes > 0 {
		t.fetchBytesTotal.Add(ctx, bytes,
			metric.WithAttributes(attribute.String("service", service)),
		)
	}
}

// RecordLedgerOperation records run ledger operation metrics.
func (t *Telemetry) RecordLedgerOperation(operation, status string, duration time.Duration) {
	if t.ledgerOperationsTotal != nil {
		t.ledgerOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if t.ledgerOperationDuration != nil {
		t.ledgerOperationDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the telemetry system. With an OTLP reader
// configured this is what pushes the final datapoints of a run.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeHTTPMetrics(); err != nil {
		return err
	}

	if err := t.initializeIngestMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeHTTPMetrics() error {
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

func (t *Telemetry) initializeIngestMetrics() error {
	var err error

	t.outcomesTotal, err = t.meter.Int64Counter(
		"ingest_outcomes_total",
		metric.WithDescription("Settled snapshot descriptors by status and failure class"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ingest_outcomes_total counter: %w", err)
	}

	t.fetchAttemptsTotal, err = t.meter.Int64Counter(
		"fetch_attempts_total",
		metric.WithDescription("HTTP retrieval attempts, including retries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_attempts_total counter: %w", err)
	}

	t.fetchBytesTotal, err = t.meter.Int64Counter(
		"fetch_bytes_total",
		metric.WithDescription("Bytes downloaded into the staging area"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_bytes_total counter: %w", err)
	}

	t.fetchDuration, err = t.meter.Float64Histogram(
		"fetch_duration_seconds",
		metric.WithDescription("Snapshot retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetch_duration histogram: %w", err)
	}

	t.fetchesActive, err = t.meter.Int64UpDownCounter(
		"fetches_active",
		metric.WithDescription("Snapshot retrievals currently in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create fetches_active counter: %w", err)
	}

	t.ledgerOperationsTotal, err = t.meter.Int64Counter(
		"ledger_operations_total",
		metric.WithDescription("Total number of run ledger operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger_operations_total counter: %w", err)
	}

	t.ledgerOperationDuration, err = t.meter.Float64Histogram(
		"ledger_operation_duration_seconds",
		metric.WithDescription("Run ledger operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	t.stagingFreeBytes, err = t.meter.Int64Gauge(
		"staging_free_bytes",
		metric.WithDescription("Free space on the staging area filesystem"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create staging_free_bytes gauge: %w", err)
	}

	t.systemUptime, err = t.meter.Float64Gauge(
		"system_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}

// collectSystemMetrics collects system-level metrics periodically.
func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(startTime)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func (t *Telemetry) updateSystemMetrics(startTime time.Time) {
	var m runtime.MemStats

	runtime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(context.Background(), int64(runtime.NumGoroutine()))
	}

	if t.systemUptime != nil {
		t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
	}

	if t.stagingFreeBytes != nil && t.stagingRoot != "" {
		if free, err := sysinfo.DiskFree(t.stagingRoot); err == nil {
			t.stagingFreeBytes.Record(context.Background(), int64(free))
		}
	}
}
