// Package metrics exposes Prometheus counters and gauges for the
// collaboration engine, served over a plain HTTP endpoint independent of
// the TCP collaboration port (grounded on ghjramos-aistore and
// zfogg-sidechain's use of github.com/prometheus/client_golang).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quillsync",
		Name:      "sessions_connected",
		Help:      "Number of currently connected sessions.",
	})

	DocumentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quillsync",
		Name:      "documents_open",
		Help:      "Number of documents currently resident in memory.",
	})

	OperationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillsync",
		Name:      "operations_applied_total",
		Help:      "Operations successfully applied to a document, by kind.",
	}, []string{"kind"})

	OperationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillsync",
		Name:      "operations_dropped_total",
		Help:      "Operations dropped after transform (zero-length deletes), by kind.",
	}, []string{"kind"})

	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quillsync",
		Name:      "history_evictions_total",
		Help:      "Operations evicted from a document's bounded history.",
	})

	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillsync",
		Name:      "frames_rejected_total",
		Help:      "Frames rejected at decode or dispatch time, by error kind.",
	}, []string{"kind"})
)

// Serve starts a blocking HTTP server exposing /metrics on addr. Intended to
// run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
