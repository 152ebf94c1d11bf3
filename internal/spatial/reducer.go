package spatial

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Reducer collapses the attribute values of the points owned by one polygon
// into a single number. The zero value is not usable; build reducers with
// Count, Sum, Mean, Min, Max, Median or NewReducer.
type Reducer struct {
	name      string
	attribute string
	fn        func(values []float64) float64
	count     bool
	fallback  *float64
}

// Count counts owned points. It is defined on empty groups (0) and reads no
// attribute.
func Count() Reducer {
	return Reducer{name: "count", count: true}
}

// Sum adds attr across owned points.
func Sum(attr string) Reducer {
	return NewReducer("sum", attr, func(v []float64) float64 {
		var total float64
		for _, x := range v {
			total += x
		}
		return total
	})
}

// Mean averages attr across owned points.
func Mean(attr string) Reducer {
	return NewReducer("mean", attr, func(v []float64) float64 {
		var total float64
		for _, x := range v {
			total += x
		}
		return total / float64(len(v))
	})
}

// Min returns the smallest attr value.
func Min(attr string) Reducer {
	return NewReducer("min", attr, func(v []float64) float64 {
		m := math.Inf(1)
		for _, x := range v {
			m = math.Min(m, x)
		}
		return m
	})
}

// Max returns the largest attr value.
func Max(attr string) Reducer {
	return NewReducer("max", attr, func(v []float64) float64 {
		m := math.Inf(-1)
		for _, x := range v {
			m = math.Max(m, x)
		}
		return m
	})
}

// Median returns the middle attr value, averaging the two middle values for
// even-sized groups.
func Median(attr string) Reducer {
	return NewReducer("median", attr, func(v []float64) float64 {
		s := append([]float64(nil), v...)
		sort.Float64s(s)
		mid := len(s) / 2
		if len(s)%2 == 0 {
			return (s[mid-1] + s[mid]) / 2
		}
		return s[mid]
	})
}

// NewReducer wraps fn as a reducer over attr. fn is only ever called with a
// non-empty slice.
func NewReducer(name, attr string, fn func(values []float64) float64) Reducer {
	return Reducer{name: name, attribute: attr, fn: fn}
}

// WithDefault returns a copy of r that yields v for polygons that own no
// points instead of failing with EmptyReductionError.
func (r Reducer) WithDefault(v float64) Reducer {
	r.fallback = &v
	return r
}

// Name returns the reducer name, e.g. "mean".
func (r Reducer) Name() string { return r.name }

// Attribute returns the attribute the reducer reads, "" for count.
func (r Reducer) Attribute() string { return r.attribute }

// IsCount reports whether r counts points rather than reading an attribute.
func (r Reducer) IsCount() bool { return r.count }

// Default returns the configured default and whether one is set.
func (r Reducer) Default() (float64, bool) {
	if r.fallback == nil {
		return 0, false
	}
	return *r.fallback, true
}

// String renders the reducer as name(attr).
func (r Reducer) String() string {
	if r.attribute == "" {
		return r.name
	}
	return r.name + "(" + r.attribute + ")"
}

// ParseReducer resolves a reducer by name. attr is ignored for count.
func ParseReducer(name, attr string) (Reducer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "count" || name == "" {
		return Count(), nil
	}
	if attr == "" {
		return Reducer{}, eris.Errorf("spatial: reducer %q requires an attribute", name)
	}
	switch name {
	case "sum":
		return Sum(attr), nil
	case "mean", "avg", "average":
		return Mean(attr), nil
	case "min":
		return Min(attr), nil
	case "max":
		return Max(attr), nil
	case "median":
		return Median(attr), nil
	default:
		return Reducer{}, eris.Errorf("spatial: unknown reducer %q", name)
	}
}
