package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testAggregate(t *testing.T) (spatial.Reducer, []spatial.AggregateRecord) {
	t.Helper()
	camden, err := spatial.NewPolygon([][]geom.Coord{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}},
		spatial.Attribute{Name: "name", Value: "Camden"})
	require.NoError(t, err)
	hackney, err := spatial.NewPolygon([][]geom.Coord{{{2, 0}, {3, 0}, {3, 1}, {2, 1}}},
		spatial.Attribute{Name: "name", Value: "Hackney"})
	require.NoError(t, err)

	reducer := spatial.Mean("NUMBER").WithDefault(math.NaN())
	return reducer, []spatial.AggregateRecord{
		{Index: 0, Polygon: camden, Count: 2, Value: 2.5},
		{Index: 1, Polygon: hackney, Count: 0, Value: math.NaN(), Defaulted: true},
	}
}

func TestNewRun(t *testing.T) {
	reducer, records := testAggregate(t)

	run, err := NewRun(reducer, Source{Points: "stations.geojson", Polygons: "boroughs.shp", LabelAttribute: "name"}, 5, records)
	require.NoError(t, err)

	assert.Equal(t, "mean", run.Reducer)
	assert.Equal(t, "NUMBER", run.Attribute)
	assert.Equal(t, 5, run.PointCount)
	assert.Equal(t, 2, run.Matched)
	require.Len(t, run.Records, 2)
	assert.Equal(t, "Camden", run.Records[0].Label)
	require.NotNil(t, run.Records[0].Value)
	assert.InDelta(t, 2.5, *run.Records[0].Value, 1e-9)
	assert.Nil(t, run.Records[1].Value)
	assert.True(t, run.Records[1].Defaulted)

	g, err := geoio.DecodeEWKB(run.Records[0].Geometry)
	require.NoError(t, err)
	_, ok := g.(*geom.Polygon)
	assert.True(t, ok)
}

func TestSQLite_SaveAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	reducer, records := testAggregate(t)

	run, err := NewRun(reducer, Source{LabelAttribute: "name"}, 3, records)
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mean", got.Reducer)
	assert.Equal(t, 3, got.PointCount)
	assert.Equal(t, 2, got.Matched)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "Hackney", got.Records[1].Label)
	require.NotNil(t, got.Records[0].Value)
	assert.InDelta(t, 2.5, *got.Records[0].Value, 1e-9)
	assert.Nil(t, got.Records[1].Value)
	assert.True(t, got.Records[1].Defaulted)
	assert.Equal(t, run.Records[0].Geometry, got.Records[0].Geometry)
}

func TestSQLite_SaveRun_ReplacesRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	reducer, records := testAggregate(t)

	run, err := NewRun(reducer, Source{}, 3, records)
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, run))

	run.Records = run.Records[:1]
	run.Matched = 2
	require.NoError(t, st.SaveRun(ctx, run))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.Records, 1)
}

func TestSQLite_GetRun_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetRun(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"count", "sum", "max"} {
		require.NoError(t, st.SaveRun(ctx, &Run{
			ID:        name,
			Reducer:   name,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "max", runs[0].ID)
	assert.Equal(t, "sum", runs[1].ID)
	assert.Empty(t, runs[0].Records)

	runs, err = st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", "", nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(ctx, "sqlite", filepath.Join(t.TempDir(), "open.db"), nil)
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close() //nolint:errcheck

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = Open(ctx, "postgres", "", nil)
	require.Error(t, err)

	_, err = Open(ctx, "mongo", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
