package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Dialect supplies the backend-specific pieces of schema reconciliation:
// type mapping and live-schema introspection.
type Dialect struct {
	TypeOf      func(ColumnKind) string
	TableNames  func(ctx context.Context, db *sql.DB) (map[string]bool, error)
	ColumnNames func(ctx context.Context, db *sql.DB, table string) (map[string]bool, error)
}

// Reconcile compares the declared schema against the live database and
// creates whatever is missing. Existing columns are never altered; a column
// present with a conflicting type is reported "found ok" and left alone.
func Reconcile(ctx context.Context, db *sql.DB, d Dialect, s Schema) ([]Change, error) {
	tables, err := d.TableNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}
	changes := make([]Change, 0, len(s))
	for _, t := range s {
		if !tables[t.Name] {
			changes = append(changes, Change{Object: "table", Name: t.Name, Created: true})
			defs := make([]string, 0, len(t.Columns))
			for _, c := range t.Columns {
				defs = append(defs, c.Name+" "+d.TypeOf(c.Kind))
			}
			q := fmt.Sprintf("CREATE TABLE %s (%s);", t.Name, strings.Join(defs, ", "))
			if _, err := db.ExecContext(ctx, q); err != nil {
				return changes, fmt.Errorf("create table %s: %w", t.Name, err)
			}
			for _, c := range t.Columns {
				if err := createIndex(ctx, db, t.Name, c); err != nil {
					return changes, err
				}
			}
			continue
		}
		changes = append(changes, Change{Object: "table", Name: t.Name})
		existing, err := d.ColumnNames(ctx, db, t.Name)
		if err != nil {
			return changes, fmt.Errorf("introspect columns of %s: %w", t.Name, err)
		}
		for _, c := range t.Columns {
			if existing[c.Name] {
				changes = append(changes, Change{Object: "field", Name: t.Name + "." + c.Name})
				continue
			}
			changes = append(changes, Change{Object: "field", Name: t.Name + "." + c.Name, Created: true})
			q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", t.Name, c.Name, d.TypeOf(c.Kind))
			if _, err := db.ExecContext(ctx, q); err != nil {
				return changes, fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
			}
			if err := createIndex(ctx, db, t.Name, c); err != nil {
				return changes, err
			}
		}
	}
	return changes, nil
}

func createIndex(ctx context.Context, db *sql.DB, table string, c Column) error {
	var q string
	switch c.Index {
	case IndexPlain:
		q = fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);", table, c.Name, table, c.Name)
	case IndexUnique:
		q = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);", table, c.Name, table, c.Name)
	default:
		return nil
	}
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create index on %s.%s: %w", table, c.Name, err)
	}
	return nil
}
