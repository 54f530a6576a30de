// Package observability wires the engine's telemetry to OpenTelemetry with a
// Prometheus exporter. Metrics are scraped from a dedicated listener so the
// API surface and the scrape surface can be firewalled independently.
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

	"asyncgate/internal/engine"
	"asyncgate/internal/shared/logging"
)

// Collector implements engine.Metrics. A zero-value Collector (metrics
// disabled) is safe to use; every record method no-ops on nil instruments.
type Collector struct {
	meter metric.Meter

	tasksCreated   metric.Int64Counter
	tasksFinished  metric.Int64Counter
	tasksRequeued  metric.Int64Counter
	leasesClaimed  metric.Int64Counter
	leasesRenewed  metric.Int64Counter
	leasesExpired  metric.Int64Counter
	receipts       metric.Int64Counter
	obligationTime metric.Float64Histogram
	obligationSize metric.Int64Counter

	prometheusServer *http.Server
	logger           logging.Logger
}

var _ engine.Metrics = (*Collector)(nil)

// Config configures the collector.
type Config struct {
	Enabled        bool
	PrometheusPort int
}

// NewCollector creates the collector and, when a port is configured, starts
// the Prometheus scrape server.
func NewCollector(cfg Config, logger logging.Logger) (*Collector, error) {
	c := &Collector{logger: logging.OrNop(logger)}
	if !cfg.Enabled {
		return c, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	c.meter = provider.Meter("asyncgate")

	if c.tasksCreated, err = c.meter.Int64Counter(
		"asyncgate.tasks.created.total",
		metric.WithDescription("Total tasks created"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, fmt.Errorf("create tasks_created counter: %w", err)
	}
	if c.tasksFinished, err = c.meter.Int64Counter(
		"asyncgate.tasks.finished.total",
		metric.WithDescription("Total tasks reaching a terminal state, by outcome"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, fmt.Errorf("create tasks_finished counter: %w", err)
	}
	if c.tasksRequeued, err = c.meter.Int64Counter(
		"asyncgate.tasks.requeued.total",
		metric.WithDescription("Total retryable-failure requeues"),
		metric.WithUnit("{task}"),
	); err != nil {
		return nil, fmt.Errorf("create tasks_requeued counter: %w", err)
	}
	if c.leasesClaimed, err = c.meter.Int64Counter(
		"asyncgate.leases.claimed.total",
		metric.WithDescription("Total leases issued to workers"),
		metric.WithUnit("{lease}"),
	); err != nil {
		return nil, fmt.Errorf("create leases_claimed counter: %w", err)
	}
	if c.leasesRenewed, err = c.meter.Int64Counter(
		"asyncgate.leases.renewed.total",
		metric.WithDescription("Total lease renewals"),
		metric.WithUnit("{renewal}"),
	); err != nil {
		return nil, fmt.Errorf("create leases_renewed counter: %w", err)
	}
	if c.leasesExpired, err = c.meter.Int64Counter(
		"asyncgate.leases.expired.total",
		metric.WithDescription("Total leases reclaimed by the sweeper"),
		metric.WithUnit("{lease}"),
	); err != nil {
		return nil, fmt.Errorf("create leases_expired counter: %w", err)
	}
	if c.receipts, err = c.meter.Int64Counter(
		"asyncgate.receipts.emitted.total",
		metric.WithDescription("Total receipts appended, by type"),
		metric.WithUnit("{receipt}"),
	); err != nil {
		return nil, fmt.Errorf("create receipts counter: %w", err)
	}
	if c.obligationTime, err = c.meter.Float64Histogram(
		"asyncgate.obligations.query.duration",
		metric.WithDescription("Open-obligation query latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create obligation_query histogram: %w", err)
	}
	if c.obligationSize, err = c.meter.Int64Counter(
		"asyncgate.obligations.returned.total",
		metric.WithDescription("Total open obligations returned to callers"),
		metric.WithUnit("{receipt}"),
	); err != nil {
		return nil, fmt.Errorf("create obligation_returned counter: %w", err)
	}

	if cfg.PrometheusPort > 0 {
		c.startPrometheusServer(cfg.PrometheusPort)
	}
	return c, nil
}

func (c *Collector) startPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	c.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		c.logger.Info("prometheus metrics listening on :%d", port)
		if err := c.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("prometheus server: %v", err)
		}
	}()
}

// Shutdown stops the scrape server.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.prometheusServer != nil {
		return c.prometheusServer.Shutdown(ctx)
	}
	return nil
}

func (c *Collector) TaskCreated() {
	if c.tasksCreated == nil {
		return
	}
	c.tasksCreated.Add(context.Background(), 1)
}

func (c *Collector) TaskSucceeded() { c.taskFinished("succeeded") }
func (c *Collector) TaskFailed()    { c.taskFinished("failed") }
func (c *Collector) TaskCanceled()  { c.taskFinished("canceled") }

func (c *Collector) taskFinished(outcome string) {
	if c.tasksFinished == nil {
		return
	}
	c.tasksFinished.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (c *Collector) TaskRequeued() {
	if c.tasksRequeued == nil {
		return
	}
	c.tasksRequeued.Add(context.Background(), 1)
}

func (c *Collector) LeasesClaimed(n int) {
	if c.leasesClaimed == nil {
		return
	}
	c.leasesClaimed.Add(context.Background(), int64(n))
}

func (c *Collector) LeaseRenewed() {
	if c.leasesRenewed == nil {
		return
	}
	c.leasesRenewed.Add(context.Background(), 1)
}

func (c *Collector) LeasesExpired(n int) {
	if c.leasesExpired == nil {
		return
	}
	c.leasesExpired.Add(context.Background(), int64(n))
}

func (c *Collector) ReceiptEmitted(receiptType string) {
	if c.receipts == nil {
		return
	}
	c.receipts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("receipt_type", receiptType)))
}

func (c *Collector) ObligationQuery(duration time.Duration, returned int) {
	if c.obligationTime == nil {
		return
	}
	c.obligationTime.Record(context.Background(), duration.Seconds())
	c.obligationSize.Add(context.Background(), int64(returned))
}
