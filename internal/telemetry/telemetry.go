// Package telemetry exposes live run metrics on a Prometheus endpoint.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/flowload/internal/metrics"
)

const namespace = "flowload"

// Sources are the live metric holders read on every scrape.
type Sources struct {
	Requests   *metrics.Engine
	Throughput *metrics.ThroughputCounter
	Trends     *metrics.TrendSink
}

// NewRegistry builds a private registry whose collectors read sources at
// scrape time. Nil sources are skipped.
func NewRegistry(src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	if r := src.Requests; r != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_users",
			Help:      "Number of live virtual users",
		}, func() float64 { return float64(r.ActiveVUs()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_virtual_users",
			Help:      "Virtual users requested by the ramp schedule",
		}, func() float64 { return float64(r.TargetVUs()) })

		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of GraphQL requests sent",
		}, func() float64 { return float64(r.TotalRequests()) })

		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Total number of failed GraphQL requests",
		}, func() float64 { return float64(r.FailedRequests()) })

		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Total number of finished iterations",
		}, func() float64 { return float64(r.Iterations()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_failure_rate",
			Help:      "Fraction of failed requests so far",
		}, r.FailureRate)

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_duration_p95_milliseconds",
			Help:      "95th percentile of request duration so far",
		}, func() float64 {
			v, _ := r.LatencyQuantile(95)
			return v
		})
	}

	if c := src.Throughput; c != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instant_rps",
			Help:      "Requests counted in the last closed one-second window",
		}, c.Last)
	}

	if t := src.Trends; t != nil {
		for _, name := range []string{metrics.MetricCreateTime, metrics.MetricPollTime, metrics.MetricE2ETime} {
			name := name
			factory.NewCounterFunc(prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "trend_samples_total",
				Help:        "Samples recorded per trend",
				ConstLabels: prometheus.Labels{"trend": name},
			}, func() float64 { return float64(t.Count(name)) })
		}
	}

	return reg
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("telemetry endpoint listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
