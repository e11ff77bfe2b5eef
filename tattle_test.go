package tattle

import (
	"context"
	"testing"
	"time"
)

func openTest(t *testing.T) *Monitor {
	t.Helper()
	m, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	if _, err := m.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return m
}

func TestFacadeRoundTrip(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()

	if _, err := m.Register(ctx, "backup", time.Hour, "nightly backup"); err != nil {
		t.Fatalf("register: %v", err)
	}
	e, err := m.Report(ctx, Report{Tag: "backup", Status: "OK", Message: "done"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if e.Status != Status("OK") {
		t.Fatalf("entry = %+v", e)
	}

	statuses, err := m.Statuses(ctx, false)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Tag != "backup" {
		t.Fatalf("statuses = %+v", statuses)
	}

	sev, err := m.Severity(ctx)
	if err != nil {
		t.Fatalf("severity: %v", err)
	}
	if sev != "clear" {
		t.Fatalf("severity = %v", sev)
	}

	entries, err := m.Tail(ctx, "backup", 5)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}

	if _, err := m.Archive(ctx, 10); err != nil {
		t.Fatalf("archive: %v", err)
	}
}

func TestFacadeHTTPHandler(t *testing.T) {
	m := openTest(t)
	if h := m.HTTPHandler("/tattle", false); h == nil {
		t.Fatal("nil handler")
	}
}
