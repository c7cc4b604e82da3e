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

// Metrics exposes application-level instruments.
type Metrics struct {
	usageIngest          metric.Int64Counter
	invoicesIssued       metric.Int64Counter
	invoiceAmount        metric.Int64Counter
	subscriptionsCreated metric.Int64Counter
	rateLimitAllowed     metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meterly"
	}
	meter := provider.Meter(name)

	usageIngest, err := meter.Int64Counter("meterly_usage_ingest_total")
	if err != nil {
		return nil, err
	}
	invoicesIssued, err := meter.Int64Counter("meterly_invoices_issued_total")
	if err != nil {
		return nil, err
	}
	invoiceAmount, err := meter.Int64Counter("meterly_invoice_amount_minor_total")
	if err != nil {
		return nil, err
	}
	subscriptionsCreated, err := meter.Int64Counter("meterly_subscriptions_created_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("meterly_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("meterly_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageIngest:          usageIngest,
		invoicesIssued:       invoicesIssued,
		invoiceAmount:        invoiceAmount,
		subscriptionsCreated: subscriptionsCreated,
		rateLimitAllowed:     rateLimitAllowed,
		rateLimitDenied:      rateLimitDenied,
	}, nil
}

// NewNoop returns instruments backed by the noop provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordUsageIngest(ctx context.Context, meterCode string, quantity int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("meter_code", strings.TrimSpace(meterCode)))
	m.usageIngest.Add(ctx, quantity, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoiceIssued(ctx context.Context, currency, source string, total int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("currency", strings.ToLower(strings.TrimSpace(currency))),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.invoicesIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
	if total > 0 {
		m.invoiceAmount.Add(ctx, total, metric.WithAttributes(attrs...))
	}
}

func (m *Metrics) RecordSubscriptionCreated(ctx context.Context, planCode, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan_code", strings.TrimSpace(planCode)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.subscriptionsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"endpoint":   {},
	"meter_code": {},
	"plan_code":  {},
	"status":     {},
	"currency":   {},
	"source":     {},
	"reason":     {},
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
