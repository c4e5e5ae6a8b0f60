// metrics.go — Prometheus metrics for observability.
//
// Exposes the counters the pipeline updates during operation:
//   - copytrader_trades_total{reason,side}   – mirror orders dispatched
//   - copytrader_rejects_total{gate}         – trades dropped, by gate
//   - copytrader_exec_failures_total         – live placements that failed
//   - copytrader_total_latency_ms            – end-to-end latency histogram
//
// Served at /metrics in Prometheus text exposition format when a listen
// address is configured; disabled otherwise.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polymarket-copytrader/pkg/types"
)

// Metrics bundles the Prometheus collectors. A nil *Metrics is a no-op,
// so callers never have to branch on whether exposition is enabled.
type Metrics struct {
	trades       *prometheus.CounterVec
	rejects      *prometheus.CounterVec
	execFailures prometheus.Counter
	totalLatency prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copytrader_trades_total",
				Help: "Mirror orders dispatched",
			},
			[]string{"reason", "side"},
		),
		rejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copytrader_rejects_total",
				Help: "Trades dropped by a filter gate",
			},
			[]string{"gate"},
		),
		execFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copytrader_exec_failures_total",
				Help: "Live order placements that failed",
			},
		),
		totalLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copytrader_total_latency_ms",
				Help:    "End-to-end event-to-ack latency in milliseconds",
				Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.trades, m.rejects, m.execFailures, m.totalLatency)
	return m
}

// Gatherer exposes the registry backing /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDispatch records a dispatched mirror order.
func (m *Metrics) ObserveDispatch(reason string, side types.Side, sample types.LatencySample) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(reason, string(side)).Inc()
	m.totalLatency.Observe(float64(sample.TotalMs))
}

// ObserveReject records a dropped trade.
func (m *Metrics) ObserveReject(gate string) {
	if m == nil {
		return
	}
	m.rejects.WithLabelValues(gate).Inc()
}

// ObserveExecFailure records a failed live placement.
func (m *Metrics) ObserveExecFailure() {
	if m == nil {
		return
	}
	m.execFailures.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if m == nil || addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
