// Package observability wires OpenTelemetry metrics to a Prometheus scrape
// endpoint and exposes the pipeline's instruments.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const meterName = "github.com/albapepper/famtrack"

// Init installs a global MeterProvider backed by the Prometheus exporter.
// The returned handler serves /metrics; shutdown flushes the provider.
func Init(serviceName, version string) (http.Handler, func(context.Context) error, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

// Metrics holds every pipeline instrument.
type Metrics struct {
	ingestEvents     metric.Int64Counter
	stepFailures     metric.Int64Counter
	alertsFired      metric.Int64Counter
	alertsSuppressed metric.Int64Counter
	flushPoints      metric.Int64Counter
	flushDuration    metric.Float64Histogram
	retentionDeleted metric.Int64Counter
}

// NewMetrics creates instruments on the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

// Nop returns instruments that record nothing, for tests and CLI runs.
func Nop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.ingestEvents, err = meter.Int64Counter("famtrack_ingest_events_total",
		metric.WithDescription("Location events taken off the inbound queue, by result")); err != nil {
		return nil, err
	}
	if m.stepFailures, err = meter.Int64Counter("famtrack_ingest_step_failures_total",
		metric.WithDescription("Ingest step failures, by step")); err != nil {
		return nil, err
	}
	if m.alertsFired, err = meter.Int64Counter("famtrack_alerts_fired_total",
		metric.WithDescription("Alerts emitted, by type")); err != nil {
		return nil, err
	}
	if m.alertsSuppressed, err = meter.Int64Counter("famtrack_alerts_suppressed_total",
		metric.WithDescription("Alerts suppressed by an active cooldown")); err != nil {
		return nil, err
	}
	if m.flushPoints, err = meter.Int64Counter("famtrack_flush_points_total",
		metric.WithDescription("Buffered points handled by the flush, by outcome")); err != nil {
		return nil, err
	}
	if m.flushDuration, err = meter.Float64Histogram("famtrack_flush_duration_seconds",
		metric.WithDescription("Wall time of one flush cycle"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.retentionDeleted, err = meter.Int64Counter("famtrack_retention_deleted_total",
		metric.WithDescription("Location history rows removed by the retention sweep")); err != nil {
		return nil, err
	}
	return &m, nil
}

// IngestEvent counts one event with result accepted, invalid or malformed.
func (m *Metrics) IngestEvent(ctx context.Context, result string) {
	m.ingestEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// StepFailure counts a failed ingest step.
func (m *Metrics) StepFailure(ctx context.Context, step string) {
	m.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// AlertFired counts an emitted alert.
func (m *Metrics) AlertFired(ctx context.Context, alertType string) {
	m.alertsFired.Add(ctx, 1, metric.WithAttributes(attribute.String("type", alertType)))
}

// AlertSuppressed counts an alert dropped by its cooldown.
func (m *Metrics) AlertSuppressed(ctx context.Context) {
	m.alertsSuppressed.Add(ctx, 1)
}

// FlushPoints counts n points with outcome persisted, filtered, unknown_user
// or abandoned.
func (m *Metrics) FlushPoints(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}
	m.flushPoints.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// FlushDuration records the duration of one flush cycle.
func (m *Metrics) FlushDuration(ctx context.Context, d time.Duration) {
	m.flushDuration.Record(ctx, d.Seconds())
}

// RetentionDeleted counts rows removed by a sweep.
func (m *Metrics) RetentionDeleted(ctx context.Context, n int64) {
	m.retentionDeleted.Add(ctx, n)
}
