package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/store"
)

// DB implements store.Store for PostgreSQL through the pgx stdlib driver.

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) Close() error { return p.db.Close() }

var dialect = store.Dialect{
	TypeOf: func(k store.ColumnKind) string {
		switch k {
		case store.KindInteger:
			return "BIGINT"
		case store.KindReal:
			return "DOUBLE PRECISION"
		case store.KindBool:
			return "BOOLEAN"
		case store.KindTimestamp:
			return "TIMESTAMPTZ"
		case store.KindAutoID:
			return "BIGSERIAL PRIMARY KEY"
		default:
			return "TEXT"
		}
	},
	TableNames: func(ctx context.Context, db *sql.DB) (map[string]bool, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema();`)
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
		rows, err := db.QueryContext(ctx, `
			SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1;`, table)
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
}

func (p *DB) Reconcile(ctx context.Context, sc store.Schema) ([]store.Change, error) {
	return store.Reconcile(ctx, p.db, dialect, sc)
}

func (p *DB) AppendEntry(ctx context.Context, e heartbeat.Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO log(tag, ts, status, message, source)
		VALUES($1, $2, $3, $4, $5);`,
		e.Tag, e.Timestamp.UTC(), string(e.Status), e.Message, e.Source)
	return err
}

func (p *DB) UpsertProcess(ctx context.Context, pr heartbeat.Process) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process(tag, interval_sec, description, hard)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(tag) DO UPDATE SET
			interval_sec=EXCLUDED.interval_sec,
			description=EXCLUDED.description,
			hard=EXCLUDED.hard;`,
		pr.Tag, int64(pr.Interval.Seconds()), pr.Description, pr.Hard)
	return err
}

func (p *DB) Processes(ctx context.Context) ([]heartbeat.Process, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT tag, interval_sec, description, hard FROM process ORDER BY tag;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanProcesses(rows)
}

func (p *DB) LatestEntries(ctx context.Context, statuses []heartbeat.Status) (map[string]heartbeat.Entry, error) {
	if len(statuses) == 0 {
		return map[string]heartbeat.Entry{}, nil
	}
	in, args := inClause(statuses, 0)
	q := fmt.Sprintf(`
		SELECT DISTINCT ON (tag) id, tag, ts, status, message, source
		FROM log WHERE status IN (%s)
		ORDER BY tag, ts DESC, id DESC;`, in)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]heartbeat.Entry, len(entries))
	for _, e := range entries {
		out[e.Tag] = e
	}
	return out, nil
}

func (p *DB) EntriesByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error) {
	return p.entriesFrom(ctx, "log", tag, limit)
}

func (p *DB) ArchivedByTag(ctx context.Context, tag string, limit int) ([]heartbeat.Entry, error) {
	return p.entriesFrom(ctx, "archived_log", tag, limit)
}

func (p *DB) entriesFrom(ctx context.Context, table, tag string, limit int) ([]heartbeat.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := fmt.Sprintf(`
		SELECT id, tag, ts, status, message, source FROM %s
		WHERE tag=$1 ORDER BY ts DESC, id DESC LIMIT $2;`, table)
	rows, err := p.db.QueryContext(ctx, q, tag, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows)
}

func (p *DB) LogTags(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT tag FROM log ORDER BY tag;`)
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

func (p *DB) AppendDefer(ctx context.Context, d heartbeat.DeferEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO defer_entry(tag, ts, ttl_hours, message)
		VALUES($1, $2, $3, $4);`,
		d.Tag, d.Timestamp.UTC(), d.TTLHours, d.Message)
	return err
}

func (p *DB) Defers(ctx context.Context) ([]heartbeat.DeferEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *DB) PurgeDefers(ctx context.Context, tag string) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM defer_entry WHERE tag=$1;`, tag)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *DB) ArchiveTag(ctx context.Context, tag string, keep int) (int64, error) {
	if keep < 0 {
		return 0, errors.New("negative keep")
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	const cold = `
		SELECT id FROM log WHERE tag=$1
		AND id NOT IN (SELECT id FROM log WHERE tag=$1 ORDER BY ts DESC, id DESC LIMIT $2)`
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

func (p *DB) Vacuum(ctx context.Context) error {
	// VACUUM cannot run inside a transaction; Exec autocommits.
	_, err := p.db.ExecContext(ctx, `VACUUM;`)
	return err
}

func inClause(statuses []heartbeat.Status, offset int) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = fmt.Sprintf("$%d", offset+i+1)
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
