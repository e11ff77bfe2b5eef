package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/store"
)

func TestEmptyDSN(t *testing.T) {
	if _, err := NewFromDSN(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSQLiteSchemes(t *testing.T) {
	for _, dsn := range []string{
		":memory:",
		"sqlite://" + filepath.Join(t.TempDir(), "a.sqlite"),
		filepath.Join(t.TempDir(), "b.sqlite"),
	} {
		st, err := NewFromDSN(dsn)
		if err != nil {
			t.Fatalf("%s: %v", dsn, err)
		}
		// prove the handle works end to end
		if _, err := st.Reconcile(context.Background(), store.Canonical); err != nil {
			t.Fatalf("%s: reconcile: %v", dsn, err)
		}
		if err := st.AppendEntry(context.Background(), heartbeat.Entry{
			Tag: "t", Status: heartbeat.StatusOK, Message: "x",
		}); err != nil {
			t.Fatalf("%s: append: %v", dsn, err)
		}
		_ = st.Close()
	}
}

func TestPostgresSchemeSelected(t *testing.T) {
	// connections open lazily, so construction succeeds without a server
	st, err := NewFromDSN("postgres://user:pw@localhost:5432/tattle")
	if err != nil {
		t.Fatalf("postgres DSN: %v", err)
	}
	_ = st.Close()
}
