// Package store persists aggregation runs so results can be listed and
// re-exported without recomputing them.
package store

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
)

// Run is one stored Aggregate invocation.
type Run struct {
	ID             string      `json:"id"`
	Reducer        string      `json:"reducer"`
	Attribute      string      `json:"attribute,omitempty"`
	PointsSource   string      `json:"points_source,omitempty"`
	PolygonsSource string      `json:"polygons_source,omitempty"`
	PointCount     int         `json:"point_count"`
	Matched        int         `json:"matched"`
	CreatedAt      time.Time   `json:"created_at"`
	Records        []RunRecord `json:"records,omitempty"`
}

// RunRecord is a stored aggregate record. Geometry is EWKB.
type RunRecord struct {
	PolygonIndex int      `json:"polygon_index"`
	Label        string   `json:"label,omitempty"`
	Count        int      `json:"count"`
	Value        *float64 `json:"value"`
	Defaulted    bool     `json:"defaulted"`
	Geometry     []byte   `json:"-"`
}

// Store defines run persistence.
type Store interface {
	// SaveRun stores run and its records, assigning ID and CreatedAt when
	// they are empty. Saving the same ID twice replaces the records.
	SaveRun(ctx context.Context, run *Run) error
	// GetRun returns the run with its records, or nil when absent.
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the newest runs first, without records.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Source describes where a run's inputs came from.
type Source struct {
	Points         string
	Polygons       string
	LabelAttribute string
}

// NewRun builds a Run from aggregate output.
func NewRun(reducer spatial.Reducer, src Source, pointCount int, records []spatial.AggregateRecord) (*Run, error) {
	run := &Run{
		Reducer:        reducer.Name(),
		Attribute:      reducer.Attribute(),
		PointsSource:   src.Points,
		PolygonsSource: src.Polygons,
		PointCount:     pointCount,
		Matched:        spatial.Matched(records),
		Records:        make([]RunRecord, len(records)),
	}
	for i, r := range records {
		wkb, err := geoio.EncodeEWKB(r.Polygon.Geom, 0)
		if err != nil {
			return nil, eris.Wrapf(err, "store: encode polygon %d", r.Index)
		}
		rec := RunRecord{
			PolygonIndex: r.Index,
			Label:        r.Polygon.Label(src.LabelAttribute),
			Count:        r.Count,
			Defaulted:    r.Defaulted,
			Geometry:     wkb,
		}
		if !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
			v := r.Value
			rec.Value = &v
		}
		run.Records[i] = rec
	}
	return run, nil
}

// Open returns the Store for driver, migrated and ready for use. An empty
// driver or "none" returns a nil Store.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		if dsn == "" {
			dsn = "geoclip.db"
		}
		s, err = NewSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, eris.New("store: postgres requires a database URL")
		}
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}
