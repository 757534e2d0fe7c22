package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics groups the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	FetchAttempts    *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	GateInFlight     prometheus.Gauge
	ExtractionScore  prometheus.Histogram
	RequestsTotal    *prometheus.CounterVec
	HistoryFailures  prometheus.Counter
	SingleFlightHits prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webextract_cache_lookups_total",
				Help: "Cache lookups by cache name and result",
			},
			[]string{"cache", "result"},
		),
		FetchAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webextract_fetch_attempts_total",
				Help: "Outbound fetch attempts by outcome",
			},
			[]string{"outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webextract_fetch_duration_seconds",
				Help:    "Time taken by a single fetch attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		GateInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webextract_gate_in_flight",
				Help: "Outbound operations currently holding a gate slot",
			},
		),
		ExtractionScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webextract_extraction_score",
				Help:    "Quality score of extracted pages",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webextract_requests_total",
				Help: "Orchestrated requests by operation and result kind",
			},
			[]string{"operation", "result"},
		),
		HistoryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webextract_history_failures_total",
				Help: "History notifications that could not be delivered",
			},
		),
		SingleFlightHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webextract_singleflight_shared_total",
				Help: "Requests served by another in-flight fetch for the same key",
			},
		),
	}
}

func (m *Metrics) CacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) FetchAttempt(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(outcome).Inc()
	m.FetchDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

func (m *Metrics) GateAcquired() {
	if m == nil {
		return
	}
	m.GateInFlight.Inc()
}

func (m *Metrics) GateReleased() {
	if m == nil {
		return
	}
	m.GateInFlight.Dec()
}

func (m *Metrics) Extracted(score float64) {
	if m == nil {
		return
	}
	m.ExtractionScore.Observe(score)
}

func (m *Metrics) Request(operation, result string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) HistoryFailed() {
	if m == nil {
		return
	}
	m.HistoryFailures.Inc()
}

func (m *Metrics) SharedFetch() {
	if m == nil {
		return
	}
	m.SingleFlightHits.Inc()
}

// Serve exposes the default gatherer on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
