package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Upsert describes a keyed bulk write: rows whose Keys already exist have
// their remaining columns overwritten.
type Upsert struct {
	Table   string   // target table, optionally schema-qualified
	Columns []string // column order of each row
	Keys    []string // columns of the unique constraint
}

func (u Upsert) validate() error {
	if len(u.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(u.Keys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (u Upsert) stagingTable() string {
	return "_tmp_upsert_" + strings.ReplaceAll(u.Table, ".", "_")
}

// statements returns the staging CREATE and the merging INSERT.
func (u Upsert) statements() (create, merge string) {
	keys := make(map[string]bool, len(u.Keys))
	for _, k := range u.Keys {
		keys[k] = true
	}
	var set []string
	for _, c := range u.Columns {
		if keys[c] {
			continue
		}
		id := pgx.Identifier{c}.Sanitize()
		set = append(set, id+" = EXCLUDED."+id)
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}

	staging := pgx.Identifier{u.stagingTable()}.Sanitize()
	cols := quoteAndJoin(u.Columns)
	create = fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging, sanitizeTable(u.Table))
	merge = fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		sanitizeTable(u.Table), cols, cols, staging, quoteAndJoin(u.Keys), action)
	return create, merge
}

// UpsertRows stages rows with COPY into a temp table dropped at commit, then
// merges them into the target. tx must belong to an open transaction; the
// caller commits.
func UpsertRows(ctx context.Context, tx Execer, u Upsert, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := u.validate(); err != nil {
		return 0, err
	}

	create, merge := u.statements()
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", u.Table)
	}
	if _, err := CopyFrom(ctx, tx, u.stagingTable(), u.Columns, rows); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: stage rows for %s", u.Table)
	}
	tag, err := tx.Exec(ctx, merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", u.Table)
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable handles schema-qualified names like "geoclip.run_records".
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
