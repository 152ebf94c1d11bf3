package spatial

import (
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Aggregate groups points by owning polygon and applies reducer to each
// group. It returns exactly one record per polygon, in polygon order.
// Points owned by no polygon are ignored.
func Aggregate(points []PointFeature, polygons []PolygonFeature, reducer Reducer, opts ...Option) ([]AggregateRecord, error) {
	if !reducer.count && reducer.fn == nil {
		return nil, eris.New("spatial: aggregate: reducer not initialised")
	}

	set, err := prepareInputs(points, polygons)
	if err != nil {
		return nil, err
	}
	owners := set.assign(points, buildOptions(opts).workers)

	counts := make([]int, len(polygons))
	var values [][]float64
	if !reducer.count {
		values = make([][]float64, len(polygons))
	}
	for i, owner := range owners {
		if owner < 0 {
			continue
		}
		counts[owner]++
		if reducer.count {
			continue
		}
		v, err := points[i].Attrs.Float(reducer.attribute)
		if err != nil {
			return nil, &InputMismatchError{Reason: fmt.Sprintf("point %d", i), Err: err}
		}
		values[owner] = append(values[owner], v)
	}

	records := make([]AggregateRecord, len(polygons))
	for i := range polygons {
		rec := AggregateRecord{Index: i, Polygon: polygons[i], Count: counts[i]}
		switch {
		case reducer.count:
			rec.Value = float64(counts[i])
		case counts[i] == 0:
			def, ok := reducer.Default()
			if !ok {
				return nil, &EmptyReductionError{Index: i, Reducer: reducer.String()}
			}
			rec.Value = def
			rec.Defaulted = true
		default:
			rec.Value = reducer.fn(values[i])
		}
		records[i] = rec
	}

	zap.L().Debug("spatial: aggregate complete",
		zap.String("reducer", reducer.String()),
		zap.Int("points", len(points)),
		zap.Int("polygons", len(polygons)),
	)
	return records, nil
}

// Matched returns the number of points owned by some polygon across records.
func Matched(records []AggregateRecord) int {
	var n int
	for _, r := range records {
		n += r.Count
	}
	return n
}
