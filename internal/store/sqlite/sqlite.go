package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; use ":memory:" for tests.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if p == ":memory:" {
		// each pool connection would otherwise get its own empty database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) Close() error { return s.db.Close() }

var dialect = store.Dialect{
	TypeOf: func(k store.ColumnKind) string {
		switch k {
		case store.KindInteger:
			return "INTEGER"
		case store.KindReal:
			return "REAL"
		case store.KindBool:
			return "BOOLEAN"
		case store.KindTimestamp:
			return "TIMESTAMP"
		case store.KindAutoID:
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		default:
			return "TEXT"
		}
	},
	TableNames: func(ctx context.Context, db *sql.DB) (map[string]bool, error) {
		rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type='table';`)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()
		out := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			out[name] = true
		}
		return out, rows.Err()
	},
	ColumnNames: func(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
		// table names come from the declared schema, not request input
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", table))
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()
		out := make(map[string]bool)
		for rows.Next() {
			var (
				cid     int
				name    string
				typ     string
				notnull int
				dflt    sql.NullString
				pk      int
			)
			if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
				return nil, err
			}
			out[name] = true
		}
		return out, rows.Err()
	},
}

func (s *DB) Reconcile(ctx context.Context, sc store.Schema) ([]store.Change, error) {
	return store.Reconcile(ctx, s.db, dialect, sc)
}

func (s *DB) AppendEntry(ctx context.Context, e heartbeat.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log(tag, ts, status, message, source)
		VALUES(?, ?, ?, ?, ?);`,
		e.Tag, e.Timestamp.UTC(), string(e.Status), e.Message, e.Source)
	return err
}

func (s *DB) UpsertProcess(ctx context.Context, p heartbeat.Process) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process(tag, interval_sec, description, hard)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(tag) DO UPDATE SET
			interval_sec=excluded.interval_sec,
			description=excluded.description,
			hard=excluded.hard;`,
		p.Tag, int64(p.Interval.Seconds()), p.Description, p.Hard)
	return err
}

func (s *DB) Processes(ctx context.Context) ([]heartbeat.Process, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, interval_sec, description, hard FROM process ORDER BY tag;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanProcesses(rows)
}

func (s *DB) LatestEntries(ctx context.Context, statuses []heartbeat.Status) (map[string]heartbeat.Entry, error) {
	if len(statuses) == 0 {
		return map[string]heartbeat.Entry{}, nil
	}
	in, args := inClause(statuses)
	q := fmt.Sprintf(`
		SELECT l.id, l.tag, l.ts, l.status, l.message, l.source
		FROM log l
		JOIN (
			SELECT tag, MAX(ts) AS maxts FROM log WHERE status IN (%s) GROUP BY tag
		) m ON l.tag = m.tag AND l.ts = m.maxts
		WHERE l.status IN (%s)
		ORDER BY l.id;`, in, in)
	rows, err := s.db.QueryContext(ctx, q, append(args, args...)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	// ascending id order means a timestamp tie resolves to the highest id
	out := make(map[string]heartbeat.Entry, len(entries))
	for _, e := range entries {
		out[e.Tag] = e
	}
	return out, nil
}

func (s *DB) EntriesByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error) {
	return s.entriesFrom(ctx, "log", tag, limit)
}

func (s *DB) ArchivedByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error) {
	return s.entriesFrom(ctx, "archived_log", tag, limit)
}

func (s *DB) entriesFrom(ctx context.Context, table, tag string, limit int) ([]heartbeat.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := fmt.Sprintf(`
		SELECT id, tag, ts, status, message, source FROM %s
		WHERE tag=? ORDER BY ts DESC, id DESC LIMIT ?;`, table)
	rows, err := s.db.QueryContext(ctx, q, tag, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (s *DB) LogTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM log ORDER BY tag;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *DB) AppendDefer(ctx context.Context, d heartbeat.DeferEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO defer_entry(tag, ts, ttl_hours, message)
		VALUES(?, ?, ?, ?);`,
		d.Tag, d.Timestamp.UTC(), d.TTLHours, d.Message)
	return err
}

func (s *DB) Defers(ctx context.Context) ([]heartbeat.DeferEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, ts, ttl_hours, message FROM defer_entry ORDER BY tag, ts;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []heartbeat.DeferEntry
	for rows.Next() {
		var d heartbeat.DeferEntry
		if err := rows.Scan(&d.Tag, &d.Timestamp, &d.TTLHours, &d.Message); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *DB) PurgeDefers(ctx context.Context, tag string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM defer_entry WHERE tag=?;`, tag)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *DB) ArchiveTag(ctx context.Context, tag string, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.New("negative keep")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	const cold = `
		SELECT id FROM log WHERE tag=?1
		AND id NOT IN (SELECT id FROM log WHERE tag=?1 ORDER BY ts DESC, id DESC LIMIT ?2)`
	_, err = tx.ExecContext(ctx, `
		INSERT INTO archived_log(id, tag, ts, status, message, source)
		SELECT id, tag, ts, status, message, source FROM log
		WHERE id IN (`+cold+`);`, tag, keep)
	if err != nil {
		return 0, fmt.Errorf("archive copy for %s: %w", tag, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM log WHERE id IN (`+cold+`);`, tag, keep)
	if err != nil {
		return 0, fmt.Errorf("archive delete for %s: %w", tag, err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return moved, tx.Commit()
}

func (s *DB) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM;`)
	return err
}

func inClause(statuses []heartbeat.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return strings.Join(marks, ","), args
}

func scanEntries(rows *sql.Rows) ([]heartbeat.Entry, error) {
	out := make([]heartbeat.Entry, 0)
	for rows.Next() {
		var (
			e      heartbeat.Entry
			status string
		)
		if err := rows.Scan(&e.ID, &e.Tag, &e.Timestamp, &status, &e.Message, &e.Source); err != nil {
			return nil, err
		}
		e.Status = heartbeat.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanProcesses(rows *sql.Rows) ([]heartbeat.Process, error) {
	out := make([]heartbeat.Process, 0)
	for rows.Next() {
		var (
			p    heartbeat.Process
			secs sql.NullInt64
			desc sql.NullString
			hard sql.NullBool
		)
		if err := rows.Scan(&p.Tag, &secs, &desc, &hard); err != nil {
			return nil, err
		}
		p.Interval = time.Duration(secs.Int64) * time.Second
		p.Description = desc.String
		p.Hard = hard.Bool
		out = append(out, p)
	}
	return out, rows.Err()
}
