package daemon

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
	// ticksTotal counts finished scheduling ticks by final status
	// (success, failure, skipped).
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "freshkeeper",
		Subsystem: "daemon",
		Name:      "ticks_total",
		Help:      "Finished scheduling ticks by final status",
	}, []string{"status"})

	// tickDuration measures wall-clock time of one whole tick, evaluation
	// and persistence included.
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "freshkeeper",
		Subsystem: "daemon",
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock duration of one scheduling tick",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// evaluationDuration measures one asset's condition-tree evaluation.
	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "freshkeeper",
		Subsystem: "daemon",
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a single asset condition evaluation",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// assetErrors counts per-asset failures that were isolated from the
	// surrounding tick. Labels: asset key, stage (evaluate, launch).
	assetErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "freshkeeper",
		Subsystem: "daemon",
		Name:      "asset_errors_total",
		Help:      "Per-asset failures isolated from the surrounding tick",
	}, []string{"asset", "stage"})

	// requestedPartitions counts (asset, partition) pairs requested for
	// materialization across all ticks.
	requestedPartitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "freshkeeper",
		Subsystem: "daemon",
		Name:      "requested_partitions_total",
		Help:      "Asset partitions requested for materialization",
	})
)

// MetricsServer exposes the prometheus registry over HTTP.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer builds a metrics server listening on addr, serving the
// default prometheus registry at /metrics.
func NewMetricsServer(addr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown is called.
func (s *MetricsServer) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight scrapes up to the
// context deadline.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
