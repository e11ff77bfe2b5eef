package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/history"
	"github.com/tbnorth/tattle/internal/metrics"
	"github.com/tbnorth/tattle/internal/store"
)

// DefaultInterval is substituted when a process is unregistered or registered
// with an unset (zero) interval.
const DefaultInterval = 24 * time.Hour

// NoMessage is stored when a report carries no message text.
const NoMessage = "*no msg.*"

// Monitor is the liveness engine. It holds no health state between calls;
// every status query recomputes from the store.
type Monitor struct {
	st     store.Store
	sink   history.Sink
	logger *slog.Logger

	defaultInterval time.Duration
	now             func() time.Time
}

// Options configures optional Monitor collaborators.
type Options struct {
	Sink            history.Sink  // optional report mirror
	Logger          *slog.Logger  // defaults to slog.Default()
	DefaultInterval time.Duration // defaults to DefaultInterval
	Now             func() time.Time
}

func New(st store.Store, opts Options) *Monitor {
	m := &Monitor{
		st:              st,
		sink:            opts.Sink,
		logger:          opts.Logger,
		defaultInterval: opts.DefaultInterval,
		now:             opts.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.defaultInterval <= 0 {
		m.defaultInterval = DefaultInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// InitSchema reconciles the canonical schema against the live database and
// returns the decision log for display.
func (m *Monitor) InitSchema(ctx context.Context) ([]store.Change, error) {
	changes, err := m.st.Reconcile(ctx, store.Canonical)
	for _, c := range changes {
		m.logger.Info("schema", "decision", c.String())
	}
	if err != nil {
		return changes, fmt.Errorf("schema reconcile: %w", err)
	}
	return changes, nil
}

// Report is one inbound heartbeat.
type Report struct {
	Tag     string `json:"tag"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

// Accept appends the report to the log. Ingestion is deliberately permissive:
// unrecognized status text is stored verbatim, an empty status defaults to
// INFO, and a DEFER with an unparsable TTL keeps the log row but creates no
// suppression. Reports for unregistered tags are accepted.
func (m *Monitor) Accept(ctx context.Context, r Report) (heartbeat.Entry, error) {
	tag := strings.TrimSpace(r.Tag)
	if tag == "" {
		return heartbeat.Entry{}, errors.New("empty tag")
	}
	status := strings.TrimSpace(r.Status)
	if status == "" {
		status = string(heartbeat.StatusInfo)
	}
	msg := r.Message
	if strings.TrimSpace(msg) == "" {
		msg = NoMessage
	}
	e := heartbeat.Entry{
		Tag:       tag,
		Timestamp: m.now().UTC(),
		Status:    heartbeat.Status(status),
		Message:   msg,
		Source:    r.Source,
	}
	if err := m.st.AppendEntry(ctx, e); err != nil {
		return heartbeat.Entry{}, fmt.Errorf("append report for %s: %w", tag, err)
	}
	if e.Status == heartbeat.StatusDefer {
		if ttl, err := strconv.ParseFloat(strings.TrimSpace(r.Message), 64); err == nil && ttl > 0 {
			d := heartbeat.DeferEntry{Tag: tag, Timestamp: e.Timestamp, TTLHours: ttl, Message: msg}
			if err := m.st.AppendDefer(ctx, d); err != nil {
				return e, fmt.Errorf("append defer for %s: %w", tag, err)
			}
		} else {
			m.logger.Warn("DEFER without usable TTL, no suppression created", "tag", tag, "message", r.Message)
		}
	}
	metrics.IncReport(status)
	m.mirror(ctx, e)
	return e, nil
}

// mirror sends the accepted entry to the history sink, if any. Failures are
// logged and swallowed; the store already holds the report.
func (m *Monitor) mirror(ctx context.Context, e heartbeat.Entry) {
	if m.sink == nil {
		return
	}
	ev := history.Event{OccurredAt: m.now().UTC(), Entry: e}
	if err := m.sink.Send(ctx, ev); err != nil {
		m.logger.Warn("history mirror failed", "tag", e.Tag, "err", err)
	}
}

// Register upserts the expected reporting interval and description for tag.
// A description ending in '!' marks the process hard-failure-only; the
// DEFUNCT: prefix retires it. Uniqueness on tag is enforced by the store's
// unique index, so concurrent registrations cannot create duplicates.
func (m *Monitor) Register(ctx context.Context, tag string, interval time.Duration, description string) (heartbeat.Process, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return heartbeat.Process{}, errors.New("empty tag")
	}
	if interval < 0 {
		return heartbeat.Process{}, fmt.Errorf("negative interval for %s", tag)
	}
	p := heartbeat.Process{
		Tag:         tag,
		Interval:    interval,
		Description: description,
		Hard:        strings.HasSuffix(strings.TrimSpace(description), string(heartbeat.HardMarker)),
	}
	if err := m.st.UpsertProcess(ctx, p); err != nil {
		return heartbeat.Process{}, fmt.Errorf("register %s: %w", tag, err)
	}
	metrics.IncRegistration()
	m.logger.Info("registered", "tag", tag, "interval", interval, "description", description)
	return p, nil
}

// Tail returns the most recent raw log entries for one tag, newest first.
func (m *Monitor) Tail(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error) {
	return m.st.EntriesByTag(ctx, tag, limit)
}

// Store exposes the underlying store for administrative callers.
func (m *Monitor) Store() store.Store { return m.st }

// Close releases the store handle.
func (m *Monitor) Close() error { return m.st.Close() }
