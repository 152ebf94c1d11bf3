package spatial

import (
	"sync"

	"go.uber.org/zap"
)

// Option configures Assign, Filter and Aggregate.
type Option func(*options)

type options struct {
	workers int
}

// WithWorkers splits the point range across n goroutines. n <= 1 runs
// inline. Output order does not depend on n.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func buildOptions(opts []Option) options {
	o := options{workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	return o
}

// Assign returns, for every point, the index of the polygon that owns it or
// -1 when no polygon contains it.
func Assign(points []PointFeature, polygons []PolygonFeature, opts ...Option) ([]int, error) {
	set, err := prepareInputs(points, polygons)
	if err != nil {
		return nil, err
	}
	return set.assign(points, buildOptions(opts).workers), nil
}

// Filter returns the points contained in any polygon, in input order.
func Filter(points []PointFeature, polygons []PolygonFeature, opts ...Option) ([]PointFeature, error) {
	owners, err := Assign(points, polygons, opts...)
	if err != nil {
		return nil, err
	}

	kept := make([]PointFeature, 0, len(points))
	for i, owner := range owners {
		if owner >= 0 {
			kept = append(kept, points[i])
		}
	}

	zap.L().Debug("spatial: filter complete",
		zap.Int("points", len(points)),
		zap.Int("polygons", len(polygons)),
		zap.Int("kept", len(kept)),
	)
	return kept, nil
}

func prepareInputs(points []PointFeature, polygons []PolygonFeature) (*PolygonSet, error) {
	for i, p := range points {
		if err := ValidatePoint(i, p); err != nil {
			return nil, err
		}
	}
	set, err := NewPolygonSet(polygons)
	if err != nil {
		return nil, err
	}
	if err := checkCompatible(points, polygons); err != nil {
		return nil, err
	}
	return set, nil
}

// assign fills one slot per point. Workers own disjoint index ranges.
func (s *PolygonSet) assign(points []PointFeature, workers int) []int {
	owners := make([]int, len(points))
	if workers <= 1 || len(points) < 2*workers {
		for i, p := range points {
			owners[i] = s.Owner(p)
		}
		return owners
	}

	chunk := (len(points) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(points); start += chunk {
		lo, hi := start, min(start+chunk, len(points))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				owners[i] = s.Owner(points[i])
			}
		}()
	}
	wg.Wait()
	return owners
}
