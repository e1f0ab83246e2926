// Package observability wires the registry's OpenTelemetry metrics and the
// Prometheus scrape endpoint.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stardag/stardag/internal/logging"
)

// Config configures the metrics collector. A zero PrometheusPort disables
// the scrape server but still records in-process.
type Config struct {
	Enabled        bool
	PrometheusPort int
}

// Metrics holds the registry's instruments. A nil or disabled collector is
// safe to call; every record method no-ops.
type Metrics struct {
	meter metric.Meter

	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	lockAcquires  metric.Int64Counter
	eventsAppends metric.Int64Counter
	sseActive     metric.Int64UpDownCounter
	janitorSweeps metric.Int64Counter

	prometheusServer *http.Server
	logger           logging.Logger
}

// New creates the collector and, when a port is configured, starts the
// Prometheus scrape server.
func New(cfg Config, logger logging.Logger) (*Metrics, error) {
	logger = logging.OrNop(logger)
	if !cfg.Enabled {
		return &Metrics{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("stardag")

	httpRequests, err := meter.Int64Counter(
		"stardag.http.requests.total",
		metric.WithDescription("Total HTTP requests handled by the registry"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests counter: %w", err)
	}
	httpLatency, err := meter.Float64Histogram(
		"stardag.http.latency",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_latency histogram: %w", err)
	}
	lockAcquires, err := meter.Int64Counter(
		"stardag.lock.acquires.total",
		metric.WithDescription("Lock acquire attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lock_acquires counter: %w", err)
	}
	eventsAppends, err := meter.Int64Counter(
		"stardag.events.appended.total",
		metric.WithDescription("Lifecycle events appended to the stream"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_appended counter: %w", err)
	}
	sseActive, err := meter.Int64UpDownCounter(
		"stardag.sse.connections.active",
		metric.WithDescription("Active build event stream subscribers"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sse_connections gauge: %w", err)
	}
	janitorSweeps, err := meter.Int64Counter(
		"stardag.janitor.sweeps.total",
		metric.WithDescription("Rows cleaned by janitor sweeps"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create janitor_sweeps counter: %w", err)
	}

	m := &Metrics{
		meter:         meter,
		httpRequests:  httpRequests,
		httpLatency:   httpLatency,
		lockAcquires:  lockAcquires,
		eventsAppends: eventsAppends,
		sseActive:     sseActive,
		janitorSweeps: janitorSweeps,
		logger:        logger,
	}
	if cfg.PrometheusPort > 0 {
		m.startPrometheusServer(cfg.PrometheusPort)
	}
	return m, nil
}

func (m *Metrics) startPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		m.logger.Info("prometheus metrics listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("prometheus server: %v", err)
		}
	}()
}

// Shutdown stops the scrape server.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m != nil && m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordHTTPRequest records one request's route, status, and latency.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLockAcquire counts an acquire attempt by outcome.
func (m *Metrics) RecordLockAcquire(ctx context.Context, outcome string) {
	if m == nil || m.lockAcquires == nil {
		return
	}
	m.lockAcquires.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEventAppended counts a lifecycle event by type.
func (m *Metrics) RecordEventAppended(ctx context.Context, eventType string) {
	if m == nil || m.eventsAppends == nil {
		return
	}
	m.eventsAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// StreamOpened marks an SSE subscriber as active.
func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil || m.sseActive == nil {
		return
	}
	m.sseActive.Add(ctx, 1)
}

// StreamClosed marks an SSE subscriber as gone.
func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil || m.sseActive == nil {
		return
	}
	m.sseActive.Add(ctx, -1)
}

// RecordJanitorSweep counts rows removed or updated by one sweep.
func (m *Metrics) RecordJanitorSweep(ctx context.Context, job string, rows int64) {
	if m == nil || m.janitorSweeps == nil {
		return
	}
	m.janitorSweeps.Add(ctx, rows, metric.WithAttributes(attribute.String("job", job)))
}
