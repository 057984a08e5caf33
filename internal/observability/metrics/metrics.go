package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

// Metrics exposes the fulfillment counters. Every sample goes to the
// Prometheus registry served on /metrics and to the OTel meter.
type Metrics struct {
	registry *prometheus.Registry

	fulfillments     *prometheus.CounterVec
	webhookResponses *prometheus.CounterVec
	adminAlerts      *prometheus.CounterVec

	otelFulfillments     metric.Int64Counter
	otelWebhookResponses metric.Int64Counter
	otelAdminAlerts      metric.Int64Counter
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

// New registers the counters on a dedicated registry and the given meter provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "courseaccess"
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaccess_fulfillment_total",
			Help: "Purchase fulfillments by workflow path and outcome status.",
		}, []string{"path", "status"}),
		webhookResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaccess_webhook_responses_total",
			Help: "Webhook responses by provider and HTTP status.",
		}, []string{"provider", "status"}),
		adminAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courseaccess_admin_alerts_total",
			Help: "Admin alert send attempts by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.fulfillments, m.webhookResponses, m.adminAlerts} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	meter := provider.Meter(name)
	var err error
	if m.otelFulfillments, err = meter.Int64Counter("courseaccess_fulfillment_total"); err != nil {
		return nil, err
	}
	if m.otelWebhookResponses, err = meter.Int64Counter("courseaccess_webhook_responses_total"); err != nil {
		return nil, err
	}
	if m.otelAdminAlerts, err = meter.Int64Counter("courseaccess_admin_alerts_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry returns the registry holding the application counters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the application counters together with the default
// process and Go runtime collectors.
func (m *Metrics) Handler() http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if m != nil {
		gatherers = append(gatherers, m.registry)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}

// RecordFulfillment counts one finished workflow run.
func (m *Metrics) RecordFulfillment(ctx context.Context, path, status string) {
	if m == nil {
		return
	}
	path, status = label(path), label(status)
	m.fulfillments.WithLabelValues(path, status).Inc()
	m.otelFulfillments.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	)...))
}

// RecordWebhookResponse counts one webhook response by HTTP status code.
func (m *Metrics) RecordWebhookResponse(ctx context.Context, provider string, statusCode int) {
	if m == nil {
		return
	}
	provider = label(provider)
	status := fmt.Sprintf("%d", statusCode)
	m.webhookResponses.WithLabelValues(provider, status).Inc()
	m.otelWebhookResponses.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)...))
}

// RecordAdminAlert counts one alert attempt; result is "sent" or "failed".
func (m *Metrics) RecordAdminAlert(ctx context.Context, result string) {
	if m == nil {
		return
	}
	result = label(result)
	m.adminAlerts.WithLabelValues(result).Inc()
	m.otelAdminAlerts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("result", result),
	)...))
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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
	"path":     {},
	"status":   {},
	"provider": {},
	"result":   {},
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
