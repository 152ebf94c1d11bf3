//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geoclip/internal/export"
)

const boroughs = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"name": "Square"},
   "geometry": {"type": "Polygon", "coordinates": [[[-1,-1],[10,-1],[10,10],[-1,10],[-1,-1]]]}},
  {"type": "Feature", "properties": {"name": "Far"},
   "geometry": {"type": "Polygon", "coordinates": [[[50,50],[60,50],[60,60],[50,60],[50,50]]]}}
]}`

const stations = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"NUMBER": 1}, "geometry": {"type": "Point", "coordinates": [0,0]}},
  {"type": "Feature", "properties": {"NUMBER": 3}, "geometry": {"type": "Point", "coordinates": [5,5]}},
  {"type": "Feature", "properties": {"NUMBER": 5}, "geometry": {"type": "Point", "coordinates": [100,100]}}
]}`

// setupWorkdir moves into a temp dir holding the test layers so config.Load
// finds no config file.
func setupWorkdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, "boroughs.geojson"), []byte(boroughs), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stations.geojson"), []byte(stations), 0o644))
	return dir
}

// execute runs the root command with args. Flag values are reset first
// because cobra keeps them between executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestFilterCommand(t *testing.T) {
	setupWorkdir(t)

	out, err := execute(t, "filter", "--points", "stations.geojson", "--polygons", "boroughs.geojson")
	require.NoError(t, err)

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &fc))
	assert.Len(t, fc.Features, 2)
}

func TestAssignCommand(t *testing.T) {
	setupWorkdir(t)

	out, err := execute(t, "assign", "--points", "stations.geojson", "--polygons", "boroughs.geojson", "--label", "name")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	var a assignment
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &a))
	assert.Equal(t, 0, a.Polygon)
	assert.Equal(t, "Square", a.Label)
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &a))
	assert.Equal(t, -1, a.Polygon)
}

func TestAggregateCommand_ToFile(t *testing.T) {
	dir := setupWorkdir(t)

	_, err := execute(t, "aggregate",
		"--points", "stations.geojson", "--polygons", "boroughs.geojson",
		"--reducer", "mean", "--attribute", "NUMBER", "--default", "0",
		"--label", "name", "--out", "out/mean.json")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "out", "mean.json"))
	require.NoError(t, err)
	var rows []export.Row
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Square", rows[0].Label)
	require.NotNil(t, rows[0].Value)
	assert.InDelta(t, 2.0, *rows[0].Value, 1e-9)
	assert.True(t, rows[1].Defaulted)
}

func TestAggregateCommand_EmptyPolygonFails(t *testing.T) {
	setupWorkdir(t)

	_, err := execute(t, "aggregate",
		"--points", "stations.geojson", "--polygons", "boroughs.geojson",
		"--reducer", "max", "--attribute", "NUMBER")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polygon 1")
}

func TestAggregateCommand_SaveWithoutStore(t *testing.T) {
	setupWorkdir(t)

	_, err := execute(t, "aggregate",
		"--points", "stations.geojson", "--polygons", "boroughs.geojson", "--save")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run store configured")
}

func TestAggregateCommand_BadReducer(t *testing.T) {
	setupWorkdir(t)

	_, err := execute(t, "aggregate",
		"--points", "stations.geojson", "--polygons", "boroughs.geojson",
		"--reducer", "mode", "--attribute", "NUMBER")
	require.Error(t, err)
}

func TestRunAndRunsCommands(t *testing.T) {
	dir := setupWorkdir(t)
	t.Setenv("GEOCLIP_STORE_DRIVER", "sqlite")
	t.Setenv("GEOCLIP_STORE_DATABASE_URL", filepath.Join(dir, "runs.db"))

	jobYAML := `
points: stations.geojson
polygons: boroughs.geojson
label_attribute: name
aggregations:
  - name: stations
    reducer: count
    output: out/stations.csv
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job.yaml"), []byte(jobYAML), 0o644))

	out, err := execute(t, "run", "job.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "stations")
	_, err = os.Stat(filepath.Join(dir, "out", "stations.csv"))
	require.NoError(t, err)

	out, err = execute(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "count")

	out, err = execute(t, "runs", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total runs:")

	_, err = execute(t, "runs", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunsCommand_NoStore(t *testing.T) {
	setupWorkdir(t)

	_, err := execute(t, "runs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run store configured")
}
