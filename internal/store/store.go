package store

import (
	"context"
	"fmt"

	"github.com/tbnorth/tattle/internal/heartbeat"
)

// ColumnKind is the dialect-independent column type used by the declared
// schema. Backends map kinds to their own SQL types.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindReal
	KindBool
	KindTimestamp
	KindAutoID
)

// IndexKind declares an optional per-column index.
type IndexKind int

const (
	IndexNone IndexKind = iota
	IndexPlain
	IndexUnique
)

type Column struct {
	Name  string
	Kind  ColumnKind
	Index IndexKind
}

type Table struct {
	Name    string
	Columns []Column
}

// Schema is an ordered declaration of tables. Reconciliation is additive
// only: missing tables and columns are created, nothing is ever dropped,
// renamed, or retyped.
type Schema []Table

// Change records one reconciliation decision. The string form is shown to
// operators as-is.
type Change struct {
	Object  string // "table" or "field"
	Name    string
	Created bool
}

func (c Change) String() string {
	if c.Created {
		return fmt.Sprintf("%s '%s' doesn't exist, creating", c.Object, c.Name)
	}
	return fmt.Sprintf("%s '%s' found ok", c.Object, c.Name)
}

// Canonical is the monitor's declared schema. The unique index on
// process.tag backs the registration upsert; concurrent inserts for a new
// tag resolve through it, never through an application-level existence check.
var Canonical = Schema{
	{Name: "process", Columns: []Column{
		{Name: "tag", Kind: KindText, Index: IndexUnique},
		{Name: "interval_sec", Kind: KindInteger},
		{Name: "description", Kind: KindText},
		{Name: "hard", Kind: KindBool},
	}},
	{Name: "log", Columns: []Column{
		{Name: "id", Kind: KindAutoID},
		{Name: "tag", Kind: KindText, Index: IndexPlain},
		{Name: "ts", Kind: KindTimestamp, Index: IndexPlain},
		{Name: "status", Kind: KindText},
		{Name: "message", Kind: KindText},
		{Name: "source", Kind: KindText},
	}},
	{Name: "archived_log", Columns: []Column{
		{Name: "id", Kind: KindInteger},
		{Name: "tag", Kind: KindText, Index: IndexPlain},
		{Name: "ts", Kind: KindTimestamp},
		{Name: "status", Kind: KindText},
		{Name: "message", Kind: KindText},
		{Name: "source", Kind: KindText},
	}},
	{Name: "defer_entry", Columns: []Column{
		{Name: "tag", Kind: KindText, Index: IndexPlain},
		{Name: "ts", Kind: KindTimestamp},
		{Name: "ttl_hours", Kind: KindReal},
		{Name: "message", Kind: KindText},
	}},
}

// Store is the persistence boundary for the monitor. All destructive writes
// outside the append path (defer purges, archival) are scoped per process
// tag, so a failure partway through a multi-process sweep loses no finished
// work.
type Store interface {
	// Reconcile applies the declared schema additively and reports every
	// decision made. Idempotent.
	Reconcile(ctx context.Context, s Schema) ([]Change, error)

	AppendEntry(ctx context.Context, e heartbeat.Entry) error
	UpsertProcess(ctx context.Context, p heartbeat.Process) error
	Processes(ctx context.Context) ([]heartbeat.Process, error)

	// LatestEntries returns, per tag, the newest log entry whose status is
	// in statuses. Ties on timestamp resolve to the highest row id.
	LatestEntries(ctx context.Context, statuses []heartbeat.Status) (map[string]heartbeat.Entry, error)
	EntriesByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error)
	ArchivedByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error)
	LogTags(ctx context.Context) ([]string, error)

	AppendDefer(ctx context.Context, d heartbeat.DeferEntry) error
	Defers(ctx context.Context) ([]heartbeat.DeferEntry, error)
	// PurgeDefers removes every suppression row for tag in one statement.
	PurgeDefers(ctx context.Context, tag string) (int64, error)

	// ArchiveTag moves all but the keep newest log rows for tag into the
	// archive table, transactionally, and returns the number moved.
	ArchiveTag(ctx context.Context, tag string, keep int) (int64, error)
	Vacuum(ctx context.Context) error

	Close() error
}
