package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	reducer         TEXT NOT NULL,
	attribute       TEXT NOT NULL DEFAULT '',
	points_source   TEXT NOT NULL DEFAULT '',
	polygons_source TEXT NOT NULL DEFAULT '',
	point_count     INTEGER NOT NULL DEFAULT 0,
	matched         INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_records (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	polygon_index INTEGER NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	count         INTEGER NOT NULL,
	value         REAL,
	defaulted     INTEGER NOT NULL DEFAULT 0,
	geom_ewkb     BLOB,
	PRIMARY KEY (run_id, polygon_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			reducer = excluded.reducer,
			attribute = excluded.attribute,
			points_source = excluded.points_source,
			polygons_source = excluded.polygons_source,
			point_count = excluded.point_count,
			matched = excluded.matched`,
		run.ID, run.Reducer, run.Attribute, run.PointsSource, run.PolygonsSource,
		run.PointCount, run.Matched, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_records WHERE run_id = ?`, run.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear records for run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_records (run_id, polygon_index, label, count, value, defaulted, geom_ewkb)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare record insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range run.Records {
		var value sql.NullFloat64
		if r.Value != nil {
			value = sql.NullFloat64{Float64: *r.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, r.PolygonIndex, r.Label, r.Count, value, r.Defaulted, r.Geometry); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %d for run %s", r.PolygonIndex, run.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT polygon_index, label, count, value, defaulted, geom_ewkb
		 FROM run_records WHERE run_id = ? ORDER BY polygon_index`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query records for run %s", id)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var r RunRecord
		var value sql.NullFloat64
		if err := rows.Scan(&r.PolygonIndex, &r.Label, &r.Count, &value, &r.Defaulted, &r.Geometry); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if value.Valid {
			v := value.Float64
			r.Value = &v
		}
		run.Records = append(run.Records, r)
	}
	return run, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Reducer, &r.Attribute, &r.PointsSource, &r.PolygonsSource,
		&r.PointCount, &r.Matched, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
