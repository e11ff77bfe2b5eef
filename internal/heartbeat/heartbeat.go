package heartbeat

import (
	"time"
)

// Status is the closed status vocabulary carried by log entries and rendered
// health states. Reports may carry arbitrary text; anything outside this set
// is stored verbatim and treated as informational chatter.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFail    Status = "FAIL"
	StatusHard    Status = "HARD" // derived only, never reported directly
	StatusDisable Status = "DISABLE"
	StatusEnable  Status = "ENABLE"
	StatusDefer   Status = "DEFER"
	StatusDefunct Status = "DEFUNCT"
	StatusInfo    Status = "INFO"
	StatusNew     Status = "NEW" // synthesized for processes that never reported
)

// Known reports whether s is part of the closed vocabulary.
func (s Status) Known() bool {
	switch s {
	case StatusOK, StatusFail, StatusHard, StatusDisable, StatusEnable,
		StatusDefer, StatusDefunct, StatusInfo, StatusNew:
		return true
	}
	return false
}

// Qualifying reports whether a log entry with this status may represent the
// last known health of a process. INFO chatter must never displace an earlier
// OK, and DEFER rows are suppression bookkeeping, not health; after a defer
// purge the state reverts to the last non-DEFER entry.
func (s Status) Qualifying() bool {
	switch s {
	case StatusOK, StatusFail, StatusDisable, StatusEnable, StatusDefunct:
		return true
	}
	return false
}

// DefunctPrefix on a process description permanently retires it from all
// status output.
const DefunctPrefix = "DEFUNCT:"

// HardMarker is the trailing description character that historically flagged
// a process as hard-failure-only. Registration promotes it to Process.Hard.
const HardMarker = '!'

// Process is a registered reporter. Interval zero means unset; the engine
// substitutes DefaultInterval and flags the result as assumed.
type Process struct {
	Tag         string        `json:"tag"`
	Interval    time.Duration `json:"interval"`
	Description string        `json:"description"`
	Hard        bool          `json:"hard"`
}

// Retired reports whether the process is excluded from status output.
func (p Process) Retired() bool {
	return len(p.Description) >= len(DefunctPrefix) && p.Description[:len(DefunctPrefix)] == DefunctPrefix
}

// Entry is one appended heartbeat report. Entries are immutable; retention
// relocates them to the archive table unchanged.
type Entry struct {
	ID        int64     `json:"id"`
	Tag       string    `json:"tag"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
}

// DeferEntry is an active suppression row. TTLHours is typed rather than
// smuggled through the message column; Message keeps the raw report text.
type DeferEntry struct {
	Tag       string    `json:"tag"`
	Timestamp time.Time `json:"timestamp"`
	TTLHours  float64   `json:"ttl_hours"`
	Message   string    `json:"message"`
}

// Expired reports whether the suppression TTL has elapsed at now.
func (d DeferEntry) Expired(now time.Time) bool {
	return now.Sub(d.Timestamp) > time.Duration(d.TTLHours*float64(time.Hour))
}

// RenderedStatus is the derived per-process health record produced by the
// status engine. It is recomputed on every query and never persisted.
type RenderedStatus struct {
	Tag         string        `json:"tag"`
	Level       Status        `json:"level"`
	LastSeen    *time.Time    `json:"last_seen,omitempty"` // nil = never reported
	Delta       time.Duration `json:"delta"`               // dueAt-now; raw interval for NEW
	Overdue     bool          `json:"overdue"`
	Message     string        `json:"message"`
	Source      string        `json:"source"`
	Interval    time.Duration `json:"interval"`
	Assumed     bool          `json:"assumed_interval"` // interval defaulted (unset or unregistered)
	Description string        `json:"description"`
}

// Severity is the worst-case reduction over a status sequence, used by icon
// and alert selectors.
type Severity string

const (
	SeverityClear Severity = "clear"
	SeverityMixed Severity = "mixed"
	SeverityBad   Severity = "bad"
)

// ReduceSeverity folds a rendered status sequence into one severity. NEW
// counts as bad on purpose: an unregistered or never-seen process is a
// must-fix, not a curiosity.
func ReduceSeverity(statuses []RenderedStatus) Severity {
	sev := SeverityClear
	for _, st := range statuses {
		switch st.Level {
		case StatusFail, StatusHard, StatusNew:
			return SeverityBad
		case StatusOK:
		default:
			sev = SeverityMixed
		}
	}
	return sev
}
