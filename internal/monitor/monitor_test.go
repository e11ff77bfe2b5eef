package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/store/sqlite"
)

// testMonitor returns a monitor over an in-memory store with a controllable
// clock. Advance the clock through the returned pointer.
func testMonitor(t *testing.T) (*Monitor, *time.Time) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := New(db, Options{Now: func() time.Time { return now }})
	if _, err := m.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return m, &now
}

func one(t *testing.T, m *Monitor, tag string, includeDisabled bool) heartbeat.RenderedStatus {
	t.Helper()
	statuses, err := m.Statuses(context.Background(), includeDisabled)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	for _, st := range statuses {
		if st.Tag == tag {
			return st
		}
	}
	t.Fatalf("tag %q not rendered; got %+v", tag, statuses)
	return heartbeat.RenderedStatus{}
}

func TestNeverReportedIsNew(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "silent", time.Hour, "never says a word"); err != nil {
		t.Fatalf("register: %v", err)
	}
	st := one(t, m, "silent", false)
	if st.Level != heartbeat.StatusNew {
		t.Fatalf("level = %v, want NEW", st.Level)
	}
	if st.LastSeen != nil {
		t.Fatalf("lastSeen should be never, got %v", st.LastSeen)
	}
	if st.Delta != time.Hour {
		t.Fatalf("NEW shows the raw interval, got %v", st.Delta)
	}
}

func TestOKWithinInterval(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "p", time.Hour, "hourly job"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK", Message: "ran"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	*now = now.Add(30 * time.Minute)
	st := one(t, m, "p", false)
	if st.Level != heartbeat.StatusOK {
		t.Fatalf("level = %v, want OK", st.Level)
	}
	if st.Overdue {
		t.Fatal("not overdue yet")
	}
	if st.Delta != 30*time.Minute {
		t.Fatalf("delta = %v, want 30m", st.Delta)
	}
}

func TestOverdueEscalation(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()
	// registered with interval 3600s; OK at t0
	if _, err := m.Register(ctx, "p", time.Hour, "hourly job"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK", Message: "ran"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	t0 := *now

	*now = t0.Add(3500 * time.Second)
	if st := one(t, m, "p", false); st.Level != heartbeat.StatusOK {
		t.Fatalf("at t0+3500s: %v, want OK", st.Level)
	}

	*now = t0.Add(3700 * time.Second)
	st := one(t, m, "p", false)
	if st.Level != heartbeat.StatusFail {
		t.Fatalf("at t0+3700s: %v, want FAIL", st.Level)
	}
	if !st.Overdue {
		t.Fatal("expected overdue")
	}

	// explicit FAIL report escalates to HARD
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "FAIL", Message: "crashed"}); err != nil {
		t.Fatalf("report FAIL: %v", err)
	}
	if st := one(t, m, "p", false); st.Level != heartbeat.StatusHard {
		t.Fatalf("after explicit FAIL: %v, want HARD", st.Level)
	}
}

func TestHardMarkerEscalatesOnlyWhenOverdue(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "p", time.Hour, "critical job!"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK", Message: "ran"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	// in time: the marker never escalates a healthy process
	if st := one(t, m, "p", false); st.Level != heartbeat.StatusOK {
		t.Fatalf("healthy marked process: %v, want OK", st.Level)
	}
	*now = now.Add(2 * time.Hour)
	if st := one(t, m, "p", false); st.Level != heartbeat.StatusHard {
		t.Fatalf("overdue marked process: %v, want HARD", st.Level)
	}
}

func TestUnregisteredAssumesDefault(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Accept(ctx, Report{Tag: "q", Status: "OK", Message: "hello"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	st := one(t, m, "q", false)
	if st.Level == heartbeat.StatusNew {
		t.Fatal("a process that reported is never NEW")
	}
	if st.Level != heartbeat.StatusOK {
		t.Fatalf("level = %v, want OK", st.Level)
	}
	if !st.Assumed {
		t.Fatal("unregistered process should carry the assumed-interval flag")
	}
	if st.Interval != DefaultInterval {
		t.Fatalf("interval = %v, want default %v", st.Interval, DefaultInterval)
	}
	if st.Description == "" {
		t.Fatal("expected placeholder description")
	}
}

func TestZeroIntervalIsUnsetNotAlwaysOverdue(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "p", 0, "no cadence declared"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK", Message: "x"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	st := one(t, m, "p", false)
	if st.Level != heartbeat.StatusOK {
		t.Fatalf("level = %v, want OK (zero interval means unset)", st.Level)
	}
	if !st.Assumed || st.Interval != DefaultInterval {
		t.Fatalf("zero interval should assume the default, got %+v", st)
	}
}

func TestInfoDoesNotDisplaceOK(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "p", time.Hour, "job"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK", Message: "ran"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	*now = now.Add(10 * time.Minute)
	if _, err := m.Accept(ctx, Report{Tag: "p", Message: "progress note"}); err != nil {
		t.Fatalf("info report: %v", err)
	}
	st := one(t, m, "p", false)
	if st.Level != heartbeat.StatusOK {
		t.Fatalf("INFO displaced OK: level = %v", st.Level)
	}
	if st.Message != "ran" {
		t.Fatalf("timeliness should rest on the OK entry, got message %q", st.Message)
	}
}

func TestDisabledSkippedUnlessIncluded(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "DISABLE", Message: "maintenance"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	statuses, err := m.Statuses(ctx, false)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("disabled process rendered: %+v", statuses)
	}
	st := one(t, m, "p", true)
	if st.Level != heartbeat.StatusDisable {
		t.Fatalf("level = %v, want DISABLE", st.Level)
	}
}

func TestRetiredExcluded(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "old", time.Hour, "DEFUNCT: replaced by new pipeline"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "old", Status: "FAIL", Message: "noise"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	statuses, err := m.Statuses(ctx, true)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	for _, st := range statuses {
		if st.Tag == "old" {
			t.Fatalf("retired process rendered: %+v", st)
		}
	}
}

func TestOrderingNeverFirstThenOldest(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "silent", time.Hour, "never reported"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "older", Status: "OK"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	*now = now.Add(time.Minute)
	if _, err := m.Accept(ctx, Report{Tag: "newer", Status: "OK"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	statuses, err := m.Statuses(ctx, false)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	got := make([]string, 0, len(statuses))
	for _, st := range statuses {
		got = append(got, st.Tag)
	}
	want := []string{"silent", "older", "newer"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRegisterUpsertNoDuplicates(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()
	if _, err := m.Register(ctx, "p", time.Hour, "v1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(ctx, "p", 2*time.Hour, "v2"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	procs, err := m.Store().Processes(ctx)
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(procs) != 1 {
		t.Fatalf("%d rows after duplicate registration", len(procs))
	}
	if procs[0].Interval != 2*time.Hour || procs[0].Description != "v2" {
		t.Fatalf("update not applied: %+v", procs[0])
	}
}

func TestPermissiveIngestion(t *testing.T) {
	m, _ := testMonitor(t)
	ctx := context.Background()

	if _, err := m.Accept(ctx, Report{Tag: ""}); err == nil {
		t.Fatal("empty tag must be rejected")
	}

	e, err := m.Accept(ctx, Report{Tag: "p", Status: "SOMETHING WILD", Message: "kept verbatim"})
	if err != nil {
		t.Fatalf("unknown status must be accepted: %v", err)
	}
	if string(e.Status) != "SOMETHING WILD" {
		t.Fatalf("raw status not preserved: %q", e.Status)
	}

	e, err = m.Accept(ctx, Report{Tag: "p"})
	if err != nil {
		t.Fatalf("statusless report: %v", err)
	}
	if e.Status != heartbeat.StatusInfo {
		t.Fatalf("missing status should default to INFO, got %v", e.Status)
	}
	if e.Message != NoMessage {
		t.Fatalf("missing message should default to %q, got %q", NoMessage, e.Message)
	}
}

func TestArchiveKeepsKAndLosesNothing(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()

	for _, tag := range []string{"a", "b"} {
		for i := 0; i < 10; i++ {
			*now = now.Add(time.Second)
			if _, err := m.Accept(ctx, Report{Tag: tag, Status: "OK"}); err != nil {
				t.Fatalf("report: %v", err)
			}
		}
	}
	res, err := m.Archive(ctx, 4)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Total != 12 {
		t.Fatalf("moved %d rows, want 12", res.Total)
	}
	for _, tag := range []string{"a", "b"} {
		live, err := m.Store().EntriesByTag(ctx, tag, 100)
		if err != nil {
			t.Fatalf("live: %v", err)
		}
		cold, err := m.Store().ArchivedByTag(ctx, tag, 100)
		if err != nil {
			t.Fatalf("cold: %v", err)
		}
		if len(live) != 4 || len(cold) != 6 {
			t.Fatalf("%s: live=%d cold=%d", tag, len(live), len(cold))
		}
	}
	// idempotent: nothing more to move
	res, err = m.Archive(ctx, 4)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("second sweep moved %d rows", res.Total)
	}
}

func TestSeverity(t *testing.T) {
	m, now := testMonitor(t)
	ctx := context.Background()

	sev, err := m.Severity(ctx)
	if err != nil {
		t.Fatalf("severity: %v", err)
	}
	if sev != heartbeat.SeverityClear {
		t.Fatalf("empty monitor severity = %v", sev)
	}

	if _, err := m.Register(ctx, "p", time.Hour, "job"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Accept(ctx, Report{Tag: "p", Status: "OK"}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if sev, _ = m.Severity(ctx); sev != heartbeat.SeverityClear {
		t.Fatalf("healthy severity = %v", sev)
	}

	*now = now.Add(2 * time.Hour)
	if sev, _ = m.Severity(ctx); sev != heartbeat.SeverityBad {
		t.Fatalf("overdue severity = %v", sev)
	}
}
