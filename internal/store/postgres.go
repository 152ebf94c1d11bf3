package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geoclip/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"get_run":     `SELECT id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at FROM runs WHERE id = $1`,
	"get_records": `SELECT polygon_index, label, count, value, defaulted, geom_ewkb FROM run_records WHERE run_id = $1 ORDER BY polygon_index`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	reducer         TEXT NOT NULL,
	attribute       TEXT NOT NULL DEFAULT '',
	points_source   TEXT NOT NULL DEFAULT '',
	polygons_source TEXT NOT NULL DEFAULT '',
	point_count     INTEGER NOT NULL DEFAULT 0,
	matched         INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_records (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	polygon_index INTEGER NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	count         INTEGER NOT NULL,
	value         DOUBLE PRECISION,
	defaulted     BOOLEAN NOT NULL DEFAULT false,
	geom_ewkb     BYTEA,
	PRIMARY KEY (run_id, polygon_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

var recordUpsert = db.Upsert{
	Table:   "run_records",
	Columns: []string{"run_id", "polygon_index", "label", "count", "value", "defaulted", "geom_ewkb"},
	Keys:    []string{"run_id", "polygon_index"},
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	rows := make([][]any, len(run.Records))
	for i, r := range run.Records {
		rows[i] = []any{run.ID, r.PolygonIndex, r.Label, r.Count, r.Value, r.Defaulted, r.Geometry}
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO runs (id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE SET reducer = EXCLUDED.reducer, attribute = EXCLUDED.attribute,
				points_source = EXCLUDED.points_source, polygons_source = EXCLUDED.polygons_source,
				point_count = EXCLUDED.point_count, matched = EXCLUDED.matched`,
			run.ID, run.Reducer, run.Attribute, run.PointsSource, run.PolygonsSource,
			run.PointCount, run.Matched, run.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: save run %s", run.ID)
		}

		// Records beyond the new polygon count belong to an older save.
		if _, err := tx.Exec(ctx,
			`DELETE FROM run_records WHERE run_id = $1 AND polygon_index >= $2`,
			run.ID, len(run.Records),
		); err != nil {
			return eris.Wrapf(err, "postgres: trim records for run %s", run.ID)
		}

		_, err = db.UpsertRows(ctx, tx, recordUpsert, rows)
		return eris.Wrapf(err, "postgres: save records for run %s", run.ID)
	})
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT polygon_index, label, count, value, defaulted, geom_ewkb FROM run_records WHERE run_id = $1 ORDER BY polygon_index`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query records for run %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.PolygonIndex, &r.Label, &r.Count, &r.Value, &r.Defaulted, &r.Geometry); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		run.Records = append(run.Records, r)
	}
	return run, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, reducer, attribute, points_source, polygons_source, point_count, matched, created_at FROM runs ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
