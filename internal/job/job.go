// Package job runs a batch of aggregations described by a YAML file against
// one points layer and one polygons layer.
package job

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geoclip/internal/export"
	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

// maxConcurrentSteps bounds how many aggregations run at once.
const maxConcurrentSteps = 4

// Job is a batch of aggregations over shared inputs.
type Job struct {
	Points         string        `yaml:"points"`
	Polygons       string        `yaml:"polygons"`
	SRID           int           `yaml:"srid"`
	Charset        string        `yaml:"charset"`
	Workers        int           `yaml:"workers"`
	LabelAttribute string        `yaml:"label_attribute"`
	FilterOutput   string        `yaml:"filter_output"` // optional GeoJSON of contained points
	Aggregations   []Aggregation `yaml:"aggregations"`
}

// Aggregation is one reducer applied per polygon.
type Aggregation struct {
	Name      string   `yaml:"name"`
	Reducer   string   `yaml:"reducer"`
	Attribute string   `yaml:"attribute"`
	Default   *float64 `yaml:"default"`
	Output    string   `yaml:"output"`
	Format    string   `yaml:"format"` // inferred from Output when empty
}

// Result summarizes one finished aggregation.
type Result struct {
	Name    string `json:"name"`
	RunID   string `json:"run_id,omitempty"`
	Output  string `json:"output,omitempty"`
	Records int    `json:"records"`
	Matched int    `json:"matched"`
}

// Load reads a job from a YAML file. Relative paths inside the job resolve
// against the file's directory.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "job: read %s", path)
	}

	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, eris.Wrapf(err, "job: parse %s", path)
	}

	base := filepath.Dir(path)
	j.Points = resolve(base, j.Points)
	j.Polygons = resolve(base, j.Polygons)
	j.FilterOutput = resolve(base, j.FilterOutput)
	for i := range j.Aggregations {
		j.Aggregations[i].Output = resolve(base, j.Aggregations[i].Output)
	}

	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks that the job names its inputs and that every step has a
// known reducer and format.
func (j *Job) Validate() error {
	if j.Points == "" || j.Polygons == "" {
		return eris.New("job: points and polygons are required")
	}
	if j.Workers < 0 {
		return eris.New("job: workers must be >= 0")
	}
	if len(j.Aggregations) == 0 && j.FilterOutput == "" {
		return eris.New("job: nothing to do; add aggregations or filter_output")
	}
	seen := make(map[string]bool, len(j.Aggregations))
	for i, a := range j.Aggregations {
		name := a.Name
		if name == "" {
			return eris.Errorf("job: aggregation %d has no name", i)
		}
		if seen[name] {
			return eris.Errorf("job: duplicate aggregation name %q", name)
		}
		seen[name] = true
		if _, err := a.reducer(); err != nil {
			return eris.Wrapf(err, "job: aggregation %q", name)
		}
		if _, err := a.format(); err != nil {
			return eris.Wrapf(err, "job: aggregation %q", name)
		}
	}
	return nil
}

func (a Aggregation) reducer() (spatial.Reducer, error) {
	r, err := spatial.ParseReducer(a.Reducer, a.Attribute)
	if err != nil {
		return spatial.Reducer{}, err
	}
	if a.Default != nil {
		r = r.WithDefault(*a.Default)
	}
	return r, nil
}

func (a Aggregation) format() (export.Format, error) {
	if a.Format == "" {
		return export.FormatFromPath(a.Output), nil
	}
	return export.ParseFormat(a.Format)
}

// Runner executes jobs. Store may be nil.
type Runner struct {
	Store store.Store
}

// Run loads the job's layers once and runs every aggregation concurrently.
// Results come back in job order.
func (r *Runner) Run(ctx context.Context, j *Job) ([]Result, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "job"), zap.String("points", j.Points), zap.String("polygons", j.Polygons))

	opts := geoio.Options{SRID: j.SRID, Charset: j.Charset}
	var (
		points   []spatial.PointFeature
		polygons []spatial.PolygonFeature
	)
	var lg errgroup.Group
	lg.Go(func() error {
		var err error
		points, err = geoio.LoadPoints(j.Points, opts)
		return err
	})
	lg.Go(func() error {
		var err error
		polygons, err = geoio.LoadPolygons(j.Polygons, opts)
		return err
	})
	if err := lg.Wait(); err != nil {
		return nil, eris.Wrap(err, "job: load layers")
	}
	log.Info("layers loaded", zap.Int("points", len(points)), zap.Int("polygons", len(polygons)))

	workers := j.Workers
	if workers == 0 {
		workers = 1
	}

	if j.FilterOutput != "" {
		if err := writeFiltered(j.FilterOutput, points, polygons, workers); err != nil {
			return nil, err
		}
		log.Info("filtered points written", zap.String("output", j.FilterOutput))
	}

	results := make([]Result, len(j.Aggregations))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSteps)
	for i, a := range j.Aggregations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.runStep(gctx, j, a, points, polygons, workers)
			if err != nil {
				return eris.Wrapf(err, "job: aggregation %q", a.Name)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			log.Info("aggregation complete",
				zap.String("name", a.Name),
				zap.Int("matched", res.Matched),
				zap.String("run_id", res.RunID))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, j *Job, a Aggregation, points []spatial.PointFeature, polygons []spatial.PolygonFeature, workers int) (Result, error) {
	reducer, err := a.reducer()
	if err != nil {
		return Result{}, err
	}
	format, err := a.format()
	if err != nil {
		return Result{}, err
	}

	records, err := spatial.Aggregate(points, polygons, reducer, spatial.WithWorkers(workers))
	if err != nil {
		return Result{}, err
	}
	res := Result{Name: a.Name, Output: a.Output, Records: len(records), Matched: spatial.Matched(records)}

	if a.Output != "" {
		if err := writeRecords(a.Output, format, records, export.Options{
			LabelAttribute: j.LabelAttribute,
			Reducer:        reducer.String(),
		}); err != nil {
			return Result{}, err
		}
	}

	if r.Store != nil {
		run, err := store.NewRun(reducer, store.Source{
			Points:         j.Points,
			Polygons:       j.Polygons,
			LabelAttribute: j.LabelAttribute,
		}, len(points), records)
		if err != nil {
			return Result{}, err
		}
		if err := r.Store.SaveRun(ctx, run); err != nil {
			return Result{}, err
		}
		res.RunID = run.ID
	}
	return res, nil
}

func writeRecords(path string, format export.Format, records []spatial.AggregateRecord, opts export.Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "job: create output dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "job: create %s", path)
	}
	if err := export.Write(f, format, records, opts); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "job: close %s", path)
}

func writeFiltered(path string, points []spatial.PointFeature, polygons []spatial.PolygonFeature, workers int) error {
	kept, err := spatial.Filter(points, polygons, spatial.WithWorkers(workers))
	if err != nil {
		return eris.Wrap(err, "job: filter")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "job: create output dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "job: create %s", path)
	}
	if err := export.WritePointsGeoJSON(f, kept); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "job: close %s", path)
}
