// Package metrics exposes the coordinator's counters over Prometheus.
package metrics

import (
	"errors"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments the coordinator and app update. Counters
// are plain fields so call sites stay direct.
type Metrics struct {
	TriggersFired        prometheus.Counter
	DurationsDelivered   prometheus.Counter
	AbsentResults        prometheus.Counter
	SkippedUnconfirmed   prometheus.Counter
	SkippedNoSettings    prometheus.Counter
	SettingsApplied      prometheus.Counter
	SettingsDiscarded    prometheus.Counter
	ConditionTransitions prometheus.Counter
	LastDuration         prometheus.Gauge
	RoundTrip            prometheus.Histogram
}

// New builds the instrument set and registers it with reg. Tests pass a
// fresh registry so instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_triggers_fired_total",
			Help: "Trigger requests dispatched to the stimulus peer.",
		}),
		DurationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_durations_delivered_total",
			Help: "Finite durations pushed to the downstream queue.",
		}),
		AbsentResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_absent_results_total",
			Help: "Fired cycles that produced no usable duration.",
		}),
		SkippedUnconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_skipped_unconfirmed_total",
			Help: "Cycles skipped because the start signal was not reconfirmed.",
		}),
		SkippedNoSettings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_skipped_no_settings_total",
			Help: "Cycles skipped because no settings were ever received.",
		}),
		SettingsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_settings_applied_total",
			Help: "Settings payloads that became the active request.",
		}),
		SettingsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_settings_discarded_total",
			Help: "Stale settings payloads dropped by the keep-latest drain.",
		}),
		ConditionTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stimsync_condition_transitions_total",
			Help: "Observed flips of the trigger gating condition.",
		}),
		LastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stimsync_last_duration_seconds",
			Help: "Most recent duration reported by the peer.",
		}),
		RoundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stimsync_roundtrip_seconds",
			Help:    "Wall time of one trigger request/reply exchange.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	reg.MustRegister(
		m.TriggersFired,
		m.DurationsDelivered,
		m.AbsentResults,
		m.SkippedUnconfirmed,
		m.SkippedNoSettings,
		m.SettingsApplied,
		m.SettingsDiscarded,
		m.ConditionTransitions,
		m.LastDuration,
		m.RoundTrip,
	)
	return m
}

// NewServer builds the HTTP server exposing /metrics and /healthz.
// The caller owns its lifecycle.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// Serve runs srv until it is shut down, logging unexpected exits.
func Serve(srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server exited: %v", err)
	}
}
