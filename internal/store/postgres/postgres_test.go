package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests and returns
// a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	ctx := context.Background()
	db, err := New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	changes, err := db.Reconcile(ctx, store.Canonical)
	if err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	created := 0
	for _, c := range changes {
		if c.Created {
			created++
		}
	}
	if created == 0 {
		t.Fatal("fresh database should create objects")
	}

	// second run must be a no-op
	changes, err = db.Reconcile(ctx, store.Canonical)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	for _, c := range changes {
		if c.Created {
			t.Fatalf("second reconcile created %s %s", c.Object, c.Name)
		}
	}

	// duplicate registrations collapse onto one row
	for _, iv := range []time.Duration{time.Hour, 2 * time.Hour} {
		if err := db.UpsertProcess(ctx, heartbeat.Process{
			Tag: "backup", Interval: iv, Description: "nightly",
		}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	procs, err := db.Processes(ctx)
	if err != nil {
		t.Fatalf("processes: %v", err)
	}
	if len(procs) != 1 || procs[0].Interval != 2*time.Hour {
		t.Fatalf("unexpected processes: %+v", procs)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []heartbeat.Entry{
		{Tag: "backup", Timestamp: base, Status: heartbeat.StatusOK, Message: "one"},
		{Tag: "backup", Timestamp: base.Add(time.Minute), Status: heartbeat.StatusInfo, Message: "chatter"},
		{Tag: "backup", Timestamp: base.Add(2 * time.Minute), Status: heartbeat.StatusOK, Message: "two"},
		{Tag: "etl", Timestamp: base, Status: heartbeat.StatusFail, Message: "broken"},
	}
	for _, e := range seed {
		if err := db.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	latest, err := db.LatestEntries(ctx, []heartbeat.Status{heartbeat.StatusOK, heartbeat.StatusFail})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest["backup"].Message != "two" {
		t.Fatalf("backup latest = %+v", latest["backup"])
	}
	if latest["etl"].Status != heartbeat.StatusFail {
		t.Fatalf("etl latest = %+v", latest["etl"])
	}

	tags, err := db.LogTags(ctx)
	if err != nil {
		t.Fatalf("log tags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %v", tags)
	}

	// defers
	if err := db.AppendDefer(ctx, heartbeat.DeferEntry{
		Tag: "etl", Timestamp: base, TTLHours: 1, Message: "1",
	}); err != nil {
		t.Fatalf("append defer: %v", err)
	}
	defers, err := db.Defers(ctx)
	if err != nil {
		t.Fatalf("defers: %v", err)
	}
	if len(defers) != 1 || defers[0].TTLHours != 1 {
		t.Fatalf("defers = %+v", defers)
	}
	n, err := db.PurgeDefers(ctx, "etl")
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}

	// archive keeps the most recent rows and loses none
	moved, err := db.ArchiveTag(ctx, "backup", 1)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	live, err := db.EntriesByTag(ctx, "backup", 10)
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if len(live) != 1 || live[0].Message != "two" {
		t.Fatalf("live = %+v", live)
	}
	cold, err := db.ArchivedByTag(ctx, "backup", 10)
	if err != nil {
		t.Fatalf("cold: %v", err)
	}
	if len(cold) != 2 {
		t.Fatalf("cold = %+v", cold)
	}
	if err := db.Vacuum(ctx); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}
