// Package prometheus records detectsearch operational metrics with the
// Prometheus client library and serves them over HTTP.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
	"github.com/custodia-labs/detectsearch/internal/logger"
)

// Ensure Metrics implements the interface.
var _ driven.Metrics = (*Metrics)(nil)

const namespace = "detectsearch"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ingests           prometheus.Counter
	objectsStored     prometheus.Counter
	detectionsDropped prometheus.Counter
	ingestDuration    prometheus.Histogram
	indexJobs         *prometheus.CounterVec
	searches          prometheus.Counter
	searchResults     prometheus.Histogram
	searchDuration    prometheus.Histogram
	warnings          prometheus.Counter
	repairReindexed   prometheus.Counter
	repairOrphans     prometheus.Counter
	errors            *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Ingestion events accepted",
		}),
		objectsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_stored_total",
			Help:      "Detected objects kept after normalisation",
		}),
		detectionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_dropped_total",
			Help:      "Raw detections rejected by validation or deduplication",
		}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to store and index one ingestion event",
			Buckets:   prometheus.DefBuckets,
		}),
		indexJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_jobs_total",
			Help:      "Label index updates applied, by kind and outcome",
		}, []string{"kind", "outcome"}),
		searches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Label searches served",
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Results returned per search page",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Time to serve one search page",
			Buckets:   prometheus.DefBuckets,
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_warnings_total",
			Help:      "Index hits filtered because the store disagreed",
		}),
		repairReindexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_reindexed_total",
			Help:      "Records reindexed by repair",
		}),
		repairOrphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_orphans_removed_total",
			Help:      "Orphaned index entries removed by repair",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed operations by name",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.ingests,
		m.objectsStored,
		m.detectionsDropped,
		m.ingestDuration,
		m.indexJobs,
		m.searches,
		m.searchResults,
		m.searchDuration,
		m.warnings,
		m.repairReindexed,
		m.repairOrphans,
		m.errors,
	)
	return m
}

// ObserveIngest records a completed ingestion.
func (m *Metrics) ObserveIngest(objects, dropped int, elapsed time.Duration) {
	m.ingests.Inc()
	m.objectsStored.Add(float64(objects))
	m.detectionsDropped.Add(float64(dropped))
	m.ingestDuration.Observe(elapsed.Seconds())
}

// ObserveIndexJob records an applied or failed index job.
func (m *Metrics) ObserveIndexJob(kind string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.indexJobs.WithLabelValues(kind, outcome).Inc()
}

// ObserveSearch records a label search.
func (m *Metrics) ObserveSearch(results, warnings int, elapsed time.Duration) {
	m.searches.Inc()
	m.searchResults.Observe(float64(results))
	m.searchDuration.Observe(elapsed.Seconds())
	m.warnings.Add(float64(warnings))
}

// ObserveRepair records the outcome of a repair pass.
func (m *Metrics) ObserveRepair(reindexed, orphans int) {
	m.repairReindexed.Add(float64(reindexed))
	m.repairOrphans.Add(float64(orphans))
}

// ObserveError records a failed operation by name.
func (m *Metrics) ObserveError(op string) {
	m.errors.WithLabelValues(op).Inc()
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics: %w", err)
		}
		return nil
	}
}
