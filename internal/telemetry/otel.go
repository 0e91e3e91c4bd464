// Package telemetry wires the metrics interface to an OTLP exporter. Without
// a configured endpoint it stays inert, so callers can always install it.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/custodix/omnivault/config"
	"github.com/custodix/omnivault/internal/observability"
)

const meterName = "github.com/custodix/omnivault"

// Provider implements observability.Metrics over an OTel meter. Instruments
// are created lazily per metric name.
type Provider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Float64Gauge
}

var _ observability.Metrics = (*Provider)(nil)

// Init builds a provider from telemetry settings. An empty OTLP endpoint
// yields a disabled provider whose methods are no-ops.
func Init(ctx context.Context, cfg config.TelemetrySettings) (*Provider, error) {
	if cfg.OTLPEndpoint == "" {
		return &Provider{}, nil
	}
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))))
	return &Provider{
		provider: provider,
		meter:    provider.Meter(meterName),
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
	}, nil
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// IncCounter adds delta to the named counter.
func (p *Provider) IncCounter(name string, delta int64, labels map[string]string) {
	if p.meter == nil {
		return
	}
	counter, err := p.counter(name)
	if err != nil {
		observability.Log().Debug("counter instrument unavailable",
			observability.F("metric", name),
			observability.F("error", err.Error()))
		return
	}
	counter.Add(context.Background(), delta, metric.WithAttributes(attrs(labels)...))
}

// SetGauge records the named gauge value.
func (p *Provider) SetGauge(name string, value float64, labels map[string]string) {
	if p.meter == nil {
		return
	}
	gauge, err := p.gauge(name)
	if err != nil {
		observability.Log().Debug("gauge instrument unavailable",
			observability.F("metric", name),
			observability.F("error", err.Error()))
		return
	}
	gauge.Record(context.Background(), value, metric.WithAttributes(attrs(labels)...))
}

func (p *Provider) counter(name string) (metric.Int64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counter, ok := p.counters[name]; ok {
		return counter, nil
	}
	counter, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = counter
	return counter, nil
}

func (p *Provider) gauge(name string) (metric.Float64Gauge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gauge, ok := p.gauges[name]; ok {
		return gauge, nil
	}
	gauge, err := p.meter.Float64Gauge(name)
	if err != nil {
		return nil, err
	}
	p.gauges[name] = gauge
	return gauge, nil
}

func attrs(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, attribute.String(k, labels[k]))
	}
	return out
}
