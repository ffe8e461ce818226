// Package metrics exposes Prometheus instrumentation for sampling and training.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docembed_samples_total",
			Help: "Samples drawn, by split and label",
		},
		[]string{"split", "label"},
	)

	SampleAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docembed_sample_anomalies_total",
			Help: "Data-integrity anomalies met while sampling",
		},
		[]string{"kind"}, // "duplicate_user", "missing_user", "no_likes", "skipped"
	)

	GraphQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docembed_graph_query_duration_seconds",
			Help:    "Latency of graph source calls made by sampling workers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docembed_train_step_duration_seconds",
			Help:    "Forward, backward and optimizer step latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	RunningLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docembed_running_loss",
			Help: "Mean loss over the current epoch so far",
		},
		[]string{"phase"},
	)

	RunningAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docembed_running_accuracy",
			Help: "Fraction of pairs whose rounded similarity matches the label",
		},
		[]string{"phase"},
	)

	Epoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docembed_epoch",
			Help: "Current training epoch",
		},
	)
)

// ObserveQuery records the duration of a graph source call started at start.
func ObserveQuery(operation string, start time.Time) {
	GraphQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
