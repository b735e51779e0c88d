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
	usageRecords     metric.Int64Counter
	usageCharacters  metric.Int64Counter
	quotaDecisions   metric.Int64Counter
	upstreamFailures metric.Int64Counter
	alertViolations  metric.Int64Counter
	alertDeliveries  metric.Int64Counter
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

// New configures the metering instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "storyvoice"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.usageRecords, "storyvoice_usage_records_total", "Usage records appended to the ledger."},
		{&m.usageCharacters, "storyvoice_usage_characters_total", "Billable characters appended to the ledger."},
		{&m.quotaDecisions, "storyvoice_quota_decisions_total", "Daily quota decisions by outcome."},
		{&m.upstreamFailures, "storyvoice_upstream_failures_total", "Failed calls to the speech provider."},
		{&m.alertViolations, "storyvoice_alert_violations_total", "Cost threshold violations detected."},
		{&m.alertDeliveries, "storyvoice_alert_deliveries_total", "Alert deliveries by channel and outcome."},
	}
	for _, c := range counters {
		*c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// RecordUsage counts one appended ledger record and its characters.
func (m *Metrics) RecordUsage(ctx context.Context, serviceType, modelID string, characters int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("service_type", strings.TrimSpace(serviceType)),
		attribute.String("model_id", strings.TrimSpace(modelID)),
	)...)
	m.usageRecords.Add(ctx, 1, attrs)
	m.usageCharacters.Add(ctx, characters, attrs)
}

// RecordQuotaDecision counts allow/deny quota outcomes.
func (m *Metrics) RecordQuotaDecision(ctx context.Context, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
	)...))
}

// RecordUpstreamFailure counts failed speech provider calls by status code.
func (m *Metrics) RecordUpstreamFailure(ctx context.Context, serviceType string, statusCode int) {
	if m == nil {
		return
	}
	m.upstreamFailures.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("service_type", strings.TrimSpace(serviceType)),
		attribute.Int("status_code", statusCode),
	)...))
}

// RecordViolation counts detected threshold violations.
func (m *Metrics) RecordViolation(ctx context.Context, period, violationType string) {
	if m == nil {
		return
	}
	m.alertViolations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("period", strings.TrimSpace(period)),
		attribute.String("violation_type", strings.TrimSpace(violationType)),
	)...))
}

// RecordDelivery counts alert deliveries.
func (m *Metrics) RecordDelivery(ctx context.Context, channel string, ok bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !ok {
		outcome = "failed"
	}
	m.alertDeliveries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("outcome", outcome),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
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
	"service_type":   {},
	"model_id":       {},
	"outcome":        {},
	"status_code":    {},
	"period":         {},
	"violation_type": {},
	"channel":        {},
	"route":          {},
	"method":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// User ids never become labels.
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
