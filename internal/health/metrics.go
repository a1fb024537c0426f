package health

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics wraps the OTel meter with the canonical instruments spec §4.7
// requires, following telemetry.MetricInstruments' lazily-created,
// name-keyed instrument map pattern — generalized here to the small
// fixed set CrossBridge actually emits, so instruments are created once
// at construction rather than on first use.
type Metrics struct {
	mu sync.Mutex

	eventsTotal        metric.Int64Counter
	eventsDroppedTotal metric.Int64Counter
	errorsTotal        metric.Int64Counter
	queueSize          metric.Int64Gauge
	queueUtilization   metric.Float64Gauge
	cpuUsage           metric.Float64Gauge
	memoryUsageMB      metric.Float64Gauge
	processingLatency  metric.Float64Histogram
	healthStatus       metric.Int64Gauge
}

// NewMetrics builds an OTel MeterProvider backed by the Prometheus
// exporter (bridging to the /metrics text format, per DOMAIN STACK) and
// registers the canonical CrossBridge instruments on it.
func NewMetrics() (*Metrics, *sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("crossbridge")

	m := &Metrics{}

	if m.eventsTotal, err = meter.Int64Counter("sidecar_events_total"); err != nil {
		return nil, nil, err
	}
	if m.eventsDroppedTotal, err = meter.Int64Counter("sidecar_events_dropped_total"); err != nil {
		return nil, nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter("sidecar_errors_total"); err != nil {
		return nil, nil, err
	}
	if m.queueSize, err = meter.Int64Gauge("sidecar_queue_size"); err != nil {
		return nil, nil, err
	}
	if m.queueUtilization, err = meter.Float64Gauge("sidecar_queue_utilization"); err != nil {
		return nil, nil, err
	}
	if m.cpuUsage, err = meter.Float64Gauge("sidecar_cpu_usage"); err != nil {
		return nil, nil, err
	}
	if m.memoryUsageMB, err = meter.Float64Gauge("sidecar_memory_usage_mb"); err != nil {
		return nil, nil, err
	}
	if m.processingLatency, err = meter.Float64Histogram("sidecar_processing_latency_ms"); err != nil {
		return nil, nil, err
	}
	if m.healthStatus, err = meter.Int64Gauge("crossbridge_health_status"); err != nil {
		return nil, nil, err
	}

	return m, provider, nil
}

func (m *Metrics) EventObserved(ctx context.Context, eventType string) {
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) EventDropped(ctx context.Context, eventType string) {
	m.eventsDroppedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) ErrorObserved(ctx context.Context, component string) {
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

func (m *Metrics) SetQueueSize(ctx context.Context, size int64) {
	m.queueSize.Record(ctx, size)
}

func (m *Metrics) SetQueueUtilization(ctx context.Context, ratio float64) {
	m.queueUtilization.Record(ctx, ratio)
}

func (m *Metrics) SetResourceUsage(ctx context.Context, cpuPercent, memMB float64) {
	m.cpuUsage.Record(ctx, cpuPercent)
	m.memoryUsageMB.Record(ctx, memMB)
}

func (m *Metrics) RecordProcessingLatency(ctx context.Context, ms float64) {
	m.processingLatency.Record(ctx, ms)
}

// SetHealthStatus sets the active status gauge to 1 and every other
// known status to 0, matching spec §4.7's "gauge set to 1 for the
// active status" requirement for crossbridge_health_status{status}.
func (m *Metrics) SetHealthStatus(ctx context.Context, active Status) {
	for _, s := range []Status{StatusHealthy, StatusDegraded, StatusUnhealthy} {
		v := int64(0)
		if s == active {
			v = 1
		}
		m.healthStatus.Record(ctx, v, metric.WithAttributes(attribute.String("status", string(s))))
	}
}
