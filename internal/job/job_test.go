package job

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoclip/internal/export"
	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

const wardsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "North"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"name": "South"},
     "geometry": {"type": "Polygon", "coordinates": [[[20,20],[30,20],[30,30],[20,30],[20,20]]]}}
  ]
}`

const stopsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"riders": 4}, "geometry": {"type": "Point", "coordinates": [1,1]}},
    {"type": "Feature", "properties": {"riders": 8}, "geometry": {"type": "Point", "coordinates": [2,2]}},
    {"type": "Feature", "properties": {"riders": 100}, "geometry": {"type": "Point", "coordinates": [50,50]}}
  ]
}`

func writeJob(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wards.geojson"), []byte(wardsGeoJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stops.geojson"), []byte(stopsGeoJSON), 0o644))
	path := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return dir, path
}

const testJob = `
points: stops.geojson
polygons: wards.geojson
workers: 2
label_attribute: name
filter_output: out/inside.geojson
aggregations:
  - name: stops
    reducer: count
    output: out/stops.csv
  - name: riders
    reducer: mean
    attribute: riders
    default: 0
    output: out/riders.json
`

func TestLoad(t *testing.T) {
	dir, path := writeJob(t, testJob)

	j, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stops.geojson"), j.Points)
	assert.Equal(t, filepath.Join(dir, "out", "stops.csv"), j.Aggregations[0].Output)
	assert.Equal(t, 2, j.Workers)
	require.Len(t, j.Aggregations, 2)
	require.NotNil(t, j.Aggregations[1].Default)
	assert.InDelta(t, 0.0, *j.Aggregations[1].Default, 1e-9)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job: read")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"no inputs", Job{}, "points and polygons are required"},
		{"nothing to do", Job{Points: "a", Polygons: "b"}, "nothing to do"},
		{"unnamed", Job{Points: "a", Polygons: "b", Aggregations: []Aggregation{{Reducer: "count"}}}, "has no name"},
		{"duplicate", Job{Points: "a", Polygons: "b", Aggregations: []Aggregation{{Name: "x"}, {Name: "x"}}}, "duplicate"},
		{"bad reducer", Job{Points: "a", Polygons: "b", Aggregations: []Aggregation{{Name: "x", Reducer: "mode", Attribute: "v"}}}, "aggregation \"x\""},
		{"bad format", Job{Points: "a", Polygons: "b", Aggregations: []Aggregation{{Name: "x", Format: "kml"}}}, "unknown format"},
		{"negative workers", Job{Points: "a", Polygons: "b", Workers: -1}, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunner_Run(t *testing.T) {
	dir, path := writeJob(t, testJob)
	j, err := Load(path)
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	results, err := (&Runner{Store: st}).Run(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "stops", results[0].Name)
	assert.Equal(t, 2, results[0].Records)
	assert.Equal(t, 2, results[0].Matched)
	assert.NotEmpty(t, results[0].RunID)

	data, err := os.ReadFile(filepath.Join(dir, "out", "riders.json"))
	require.NoError(t, err)
	var rows []export.Row
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "North", rows[0].Label)
	require.NotNil(t, rows[0].Value)
	assert.InDelta(t, 6.0, *rows[0].Value, 1e-9)
	assert.True(t, rows[1].Defaulted)

	_, err = os.Stat(filepath.Join(dir, "out", "stops.csv"))
	require.NoError(t, err)
	inside, err := os.ReadFile(filepath.Join(dir, "out", "inside.geojson"))
	require.NoError(t, err)
	assert.Contains(t, string(inside), `"riders":8`)
	assert.NotContains(t, string(inside), `"riders":100`)

	run, err := st.GetRun(context.Background(), results[1].RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "mean", run.Reducer)
	assert.Equal(t, 3, run.PointCount)
	require.Len(t, run.Records, 2)
	assert.Equal(t, "South", run.Records[1].Label)
}

func TestRunner_Run_NoStore(t *testing.T) {
	_, path := writeJob(t, `
points: stops.geojson
polygons: wards.geojson
aggregations:
  - name: total
    reducer: sum
    attribute: riders
`)
	j, err := Load(path)
	require.NoError(t, err)

	results, err := (&Runner{}).Run(context.Background(), j)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].RunID)
	assert.Empty(t, results[0].Output)
}

func TestRunner_Run_EmptyReduction(t *testing.T) {
	_, path := writeJob(t, `
points: stops.geojson
polygons: wards.geojson
aggregations:
  - name: peak
    reducer: max
    attribute: riders
`)
	j, err := Load(path)
	require.NoError(t, err)

	_, err = (&Runner{}).Run(context.Background(), j)
	require.Error(t, err)
	assert.True(t, spatial.IsEmptyReduction(err))
	assert.Contains(t, err.Error(), `aggregation "peak"`)
}

func TestRunner_Run_MissingLayer(t *testing.T) {
	j := &Job{
		Points:       filepath.Join(t.TempDir(), "missing.geojson"),
		Polygons:     filepath.Join(t.TempDir(), "missing.geojson"),
		Aggregations: []Aggregation{{Name: "n", Reducer: "count"}},
	}
	_, err := (&Runner{}).Run(context.Background(), j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job: load layers")
}
