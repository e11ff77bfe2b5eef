// Package tattle is a dead-man's-switch liveness monitor: external processes
// report heartbeats and tattle infers, per process, whether it is healthy,
// overdue, explicitly failed, or intentionally suppressed.
package tattle

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/history"
	"github.com/tbnorth/tattle/internal/metrics"
	"github.com/tbnorth/tattle/internal/monitor"
	iapi "github.com/tbnorth/tattle/internal/server"
	"github.com/tbnorth/tattle/internal/store"
	"github.com/tbnorth/tattle/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = heartbeat.Status

type Entry = heartbeat.Entry

type Process = heartbeat.Process

type RenderedStatus = heartbeat.RenderedStatus

type Severity = heartbeat.Severity

type Report = monitor.Report

type ArchiveResult = monitor.ArchiveResult

type SchemaChange = store.Change

type HistorySink = history.Sink

// Monitor is a thin facade over internal/monitor.Monitor, providing a stable
// public API for embedding.
type Monitor struct{ inner *monitor.Monitor }

// Options mirrors monitor.Options for embedders.
type Options = monitor.Options

// Open builds a Monitor backed by the store the DSN selects (sqlite path or
// postgres URL).
func Open(dsn string, opts Options) (*Monitor, error) {
	st, err := factory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Monitor{inner: monitor.New(st, opts)}, nil
}

func (m *Monitor) InitSchema(ctx context.Context) ([]SchemaChange, error) {
	return m.inner.InitSchema(ctx)
}

func (m *Monitor) Report(ctx context.Context, r Report) (Entry, error) {
	return m.inner.Accept(ctx, r)
}

func (m *Monitor) Register(ctx context.Context, tag string, interval time.Duration, description string) (Process, error) {
	return m.inner.Register(ctx, tag, interval, description)
}

func (m *Monitor) Statuses(ctx context.Context, includeDisabled bool) ([]RenderedStatus, error) {
	return m.inner.Statuses(ctx, includeDisabled)
}

func (m *Monitor) Severity(ctx context.Context) (Severity, error) {
	return m.inner.Severity(ctx)
}

func (m *Monitor) Tail(ctx context.Context, tag string, limit int) ([]Entry, error) {
	return m.inner.Tail(ctx, tag, limit)
}

func (m *Monitor) Archive(ctx context.Context, keep int) (ArchiveResult, error) {
	return m.inner.Archive(ctx, keep)
}

func (m *Monitor) Close() error { return m.inner.Close() }

// HTTPHandler returns the JSON API handler for mounting in any mux.
func (m *Monitor) HTTPHandler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(m.inner, basePath, withMetrics).Handler()
}

// NewServer starts a standalone HTTP server for the monitor API.
func (m *Monitor) NewServer(addr, basePath string, withMetrics bool) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner, withMetrics)
}

// RegisterMetrics registers the monitor's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
