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

var (
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_cache_lookups_total",
			Help: "Reference cache lookups by result (hit, miss, expired, error)",
		},
		[]string{"result"},
	)

	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_cache_errors_total",
			Help: "Storage failures swallowed by the reference cache per operation",
		},
		[]string{"op"},
	)

	CacheEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rateshadow_cache_evicted_total",
			Help: "Expired observations removed by eviction sweeps",
		},
	)

	PriceAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_price_alerts_total",
			Help: "Price alerts raised by kind",
		},
		[]string{"kind"},
	)

	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_collections_total",
			Help: "Marketplace collections per destination and outcome",
		},
		[]string{"destination", "outcome"},
	)

	CollectionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rateshadow_collection_duration_seconds",
			Help:    "Marketplace fetch duration per destination",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_decisions_total",
			Help: "Shadowing decisions by reason and price source",
		},
		[]string{"reason", "source"},
	)

	OnDemandAbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rateshadow_on_demand_abandoned_total",
			Help: "On-demand collections abandoned after the engine timeout",
		},
	)

	SupplierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_supplier_requests_total",
			Help: "Supplier API calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_notifications_total",
			Help: "Administrative notifications by event type and outcome (sent, failed, dropped)",
		},
		[]string{"event", "outcome"},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rateshadow_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rateshadow_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateshadow_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

// UpdateJobMetrics records the completion of a scheduled job.
func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Str("path", path).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
