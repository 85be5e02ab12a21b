package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level OpenTelemetry instruments.
type Metrics struct {
	collections   metric.Int64Counter
	collected     metric.Int64Counter
	cancellations metric.Int64Counter
	assignments   metric.Int64Counter
	conflicts     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the ledger metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bursar"
	}
	meter := provider.Meter(name)

	collections, err := meter.Int64Counter("bursar_fee_collections_total")
	if err != nil {
		return nil, err
	}
	collected, err := meter.Int64Counter("bursar_fee_collected_minor_units_total",
		metric.WithUnit("{minor_unit}"))
	if err != nil {
		return nil, err
	}
	cancellations, err := meter.Int64Counter("bursar_fee_cancellations_total")
	if err != nil {
		return nil, err
	}
	assignments, err := meter.Int64Counter("bursar_fee_obligations_assigned_total")
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("bursar_ledger_conflicts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		collections:   collections,
		collected:     collected,
		cancellations: cancellations,
		assignments:   assignments,
		conflicts:     conflicts,
	}, nil
}

// RecordCollection counts one accepted payment and the amount it settled.
func (m *Metrics) RecordCollection(ctx context.Context, channel string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("channel", strings.TrimSpace(channel)))
	m.collections.Add(ctx, 1, metric.WithAttributes(attrs...))
	if amount > 0 {
		m.collected.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordCancellation(ctx context.Context) {
	if m == nil {
		return
	}
	m.cancellations.Add(ctx, 1)
}

// RecordAssignment counts obligations created and skipped by one assignment run.
func (m *Metrics) RecordAssignment(ctx context.Context, created, skipped int) {
	if m == nil {
		return
	}
	if created > 0 {
		m.assignments.Add(ctx, int64(created), metric.WithAttributes(FilterAttributes(attribute.String("result", "created"))...))
	}
	if skipped > 0 {
		m.assignments.Add(ctx, int64(skipped), metric.WithAttributes(FilterAttributes(attribute.String("result", "skipped"))...))
	}
}

// RecordConflict counts a concurrent modification detected on an obligation.
func (m *Metrics) RecordConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"channel":     {},
	"operation":   {},
	"result":      {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
