// Package metrics exports job metrics through OpenTelemetry with a Prometheus exporter.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/block/repokeeper/internal/logging"
)

type Config struct {
	ServiceName string `hcl:"service-name,optional" help:"Service name for metrics." default:"repokeeper"`
	Port        int    `hcl:"port,optional" help:"Port for the /metrics endpoint, 0 disables it." default:"0"`
}

// Client owns the meter provider and the Prometheus registry it exports to.
type Client struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
	port     int
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	registry := prometheus.NewRegistry()
	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(registry))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Prometheus exporter")
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	logging.FromContext(ctx).DebugContext(ctx, "Metrics initialized", "service", cfg.ServiceName, "port", cfg.Port)
	return &Client{provider: provider, registry: registry, port: cfg.Port}, nil
}

func (c *Client) MeterProvider() metric.MeterProvider { return c.provider }

// Close shuts down the meter provider.
func (c *Client) Close() error {
	return errors.Wrap(c.provider.Shutdown(context.Background()), "failed to shutdown meter provider")
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (c *Client) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ServeMetrics starts the /metrics endpoint in the background until ctx is done. It does
// nothing when no port is configured.
func (c *Client) ServeMetrics(ctx context.Context) {
	if c.port <= 0 {
		return
	}
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "Starting metrics server", "port", c.port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "Metrics server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Metrics server shutdown error", "error", err)
		}
	}()
}
