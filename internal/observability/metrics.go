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
)

// MetricsCollector manages all metrics for the tracker. The zero value (or a
// collector built with Enabled=false) is a no-op, so callers never need nil
// checks.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// Monitor loop metrics
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	samples      metric.Int64Counter
	activities   metric.Int64Counter

	// Classification metrics
	matches metric.Int64Counter

	// Actuator metrics
	notifications metric.Int64Counter
	minimizes     metric.Int64Counter

	// Ingest and façade metrics
	frames    metric.Int64Counter
	wsClients metric.Int64UpDownCounter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool
}

// NewMetricsCollector creates a new metrics collector backed by a Prometheus
// exporter. The registry is exposed through Handler, served by the HTTP
// façade; nothing is pushed anywhere.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("loupe")

	ticks, err := meter.Int64Counter(
		"loupe.monitor.ticks.total",
		metric.WithDescription("Total monitor loop iterations"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticks counter: %w", err)
	}

	tickDuration, err := meter.Float64Histogram(
		"loupe.monitor.tick.duration",
		metric.WithDescription("Monitor tick duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tick duration histogram: %w", err)
	}

	samples, err := meter.Int64Counter(
		"loupe.monitor.samples.total",
		metric.WithDescription("Samples built, by kind"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create samples counter: %w", err)
	}

	activities, err := meter.Int64Counter(
		"loupe.activities.total",
		metric.WithDescription("Activity rows opened and closed"),
		metric.WithUnit("{activity}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activities counter: %w", err)
	}

	matches, err := meter.Int64Counter(
		"loupe.rules.matches.total",
		metric.WithDescription("Classifications, by outcome"),
		metric.WithUnit("{match}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create matches counter: %w", err)
	}

	notifications, err := meter.Int64Counter(
		"loupe.notify.total",
		metric.WithDescription("Notification attempts, by result"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications counter: %w", err)
	}

	minimizes, err := meter.Int64Counter(
		"loupe.focus.minimize.total",
		metric.WithDescription("Window minimise calls issued by the focus enforcer"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create minimizes counter: %w", err)
	}

	frames, err := meter.Int64Counter(
		"loupe.ingest.frames.total",
		metric.WithDescription("Browser extension frames, by result"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create frames counter: %w", err)
	}

	wsClients, err := meter.Int64UpDownCounter(
		"loupe.api.ws.clients",
		metric.WithDescription("Connected activity WebSocket clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ws clients gauge: %w", err)
	}

	return &MetricsCollector{
		meter:         meter,
		provider:      provider,
		ticks:         ticks,
		tickDuration:  tickDuration,
		samples:       samples,
		activities:    activities,
		matches:       matches,
		notifications: notifications,
		minimizes:     minimizes,
		frames:        frames,
		wsClients:     wsClients,
	}, nil
}

// Handler returns the Prometheus scrape handler for the façade to mount.
func (m *MetricsCollector) Handler() http.Handler {
	return promclient.Handler()
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordTick records one monitor loop iteration and its duration.
func (m *MetricsCollector) RecordTick(ctx context.Context, duration time.Duration) {
	if m.ticks == nil {
		return
	}
	m.ticks.Add(ctx, 1)
	m.tickDuration.Record(ctx, duration.Seconds())
}

// RecordSample records a built sample by kind (window, locked, idle, unknown).
func (m *MetricsCollector) RecordSample(ctx context.Context, kind string) {
	if m.samples == nil {
		return
	}
	m.samples.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordActivity records an activity row transition (opened or closed).
func (m *MetricsCollector) RecordActivity(ctx context.Context, op string) {
	if m.activities == nil {
		return
	}
	m.activities.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordMatch records a classification outcome (rule or unclassified).
func (m *MetricsCollector) RecordMatch(ctx context.Context, outcome string) {
	if m.matches == nil {
		return
	}
	m.matches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordNotification records a notification attempt result (sent, suppressed,
// failed).
func (m *MetricsCollector) RecordNotification(ctx context.Context, result string) {
	if m.notifications == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordMinimize records one minimise call.
func (m *MetricsCollector) RecordMinimize(ctx context.Context) {
	if m.minimizes == nil {
		return
	}
	m.minimizes.Add(ctx, 1)
}

// RecordFrame records an ingested extension frame result (accepted, discarded).
func (m *MetricsCollector) RecordFrame(ctx context.Context, result string) {
	if m.frames == nil {
		return
	}
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// AddWSClient adjusts the connected WebSocket client gauge.
func (m *MetricsCollector) AddWSClient(ctx context.Context, delta int64) {
	if m.wsClients == nil {
		return
	}
	m.wsClients.Add(ctx, delta)
}
