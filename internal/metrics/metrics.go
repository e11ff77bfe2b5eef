package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "reports_total",
			Help:      "Number of accepted heartbeat reports by status.",
		}, []string{"status"},
	)
	registrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "registrations_total",
			Help:      "Number of process registrations (inserts and updates).",
		},
	)
	statusQueries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "status_queries_total",
			Help:      "Number of status-engine computations.",
		},
	)
	deferPurges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "defer_purges_total",
			Help:      "Number of DEFER suppression rows removed by expiry.",
		},
	)
	archivedRows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "archived_rows_total",
			Help:      "Number of log rows moved to the archive table.",
		},
	)
	processLevels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tattle",
			Subsystem: "monitor",
			Name:      "processes",
			Help:      "Processes by rendered health level as of the last status query.",
		}, []string{"level"},
	)
)

// Register registers all metrics with the provided registerer.
// Safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{reportsTotal, registrationsTotal, statusQueries, deferPurges, archivedRows, processLevels}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncReport(status string) {
	if regOK.Load() {
		reportsTotal.WithLabelValues(status).Inc()
	}
}

func IncRegistration() {
	if regOK.Load() {
		registrationsTotal.Inc()
	}
}

func IncStatusQuery() {
	if regOK.Load() {
		statusQueries.Inc()
	}
}

func AddDeferPurged(n int64) {
	if regOK.Load() {
		deferPurges.Add(float64(n))
	}
}

func AddArchived(n int64) {
	if regOK.Load() {
		archivedRows.Add(float64(n))
	}
}

func SetProcessLevel(level string, n int) {
	if regOK.Load() {
		processLevels.WithLabelValues(level).Set(float64(n))
	}
}
