// Package metrics holds the Prometheus collectors of the discovery and
// labeling pipeline and a small HTTP server that exposes them.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "opcua_browser"

var (
	NodesVisited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "nodes_visited_total",
		Help:      "Address-space nodes visited by the tree walker.",
	})

	CandidatesFound = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "candidates",
		Help:      "Numeric variable leaves found by the last walk.",
	})

	ProbesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "probes_in_flight",
		Help:      "Liveness probes currently running.",
	})

	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_results_total",
		Help:      "Finished liveness probes by outcome (dynamic, static, failed).",
	}, []string{"result"})

	SamplesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_collected_total",
		Help:      "Values read by the windowed sampler.",
	})

	SampleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sample_failures_total",
		Help:      "Nodes dropped from a sampling window because a read failed.",
	})

	Mappings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mappings_total",
		Help:      "Confirmed mappings by decision source (auto, selected, override).",
	}, []string{"source"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Wall time of pipeline phases.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 900},
	}, []string{"phase"})
)

// Time starts a timer for phase; call the returned func when it ends.
func Time(phase string) func() {
	timer := prometheus.NewTimer(PhaseDuration.WithLabelValues(phase))
	return func() { timer.ObserveDuration() }
}

// Server exposes /metrics and /health on addr.
type Server struct {
	log  *slog.Logger
	http *http.Server
}

// NewServer builds the server without starting it.
func NewServer(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	return &Server{
		log:  log,
		http: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves in a goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server starting", slog.String("address", "http://"+s.http.Addr+"/metrics"))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
}

// Shutdown stops the server, waiting at most five seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
