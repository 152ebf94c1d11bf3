// Package spatial clips point features to polygon boundaries and aggregates
// contained points per polygon.
//
// Containment policy:
//   - a point on any ring of a polygon (outer or hole) is contained;
//   - a point strictly inside a hole is not contained;
//   - when polygons overlap, a point belongs to the lowest-index polygon
//     that contains it, so no point is ever counted twice.
package spatial

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Attribute is a single named value carried by a feature. Values are
// float64, int, int64, string, bool or nil.
type Attribute struct {
	Name  string
	Value any
}

// Attributes is an ordered attribute list. Lookups are case-sensitive.
type Attributes []Attribute

// AttributesFromMap converts an unordered property map to Attributes sorted
// by name so that output is stable.
func AttributesFromMap(m map[string]any) Attributes {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	attrs := make(Attributes, 0, len(names))
	for _, n := range names {
		attrs = append(attrs, Attribute{Name: n, Value: m[n]})
	}
	return attrs
}

// Get returns the value of the named attribute.
func (a Attributes) Get(name string) (any, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return nil, false
}

// Float returns the named attribute as a float64. Integers and numeric
// strings are converted; anything else is an error, as are NaN and infinities.
func (a Attributes) Float(name string) (float64, error) {
	v, ok := a.Get(name)
	if !ok {
		return 0, fmt.Errorf("attribute %q not present", name)
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("attribute %q value %q is not numeric", name, n)
		}
	case nil:
		return 0, fmt.Errorf("attribute %q is null", name)
	default:
		return 0, fmt.Errorf("attribute %q has non-numeric type %T", name, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("attribute %q value %v is not numeric", name, v)
	}
	return f, nil
}

// Names returns attribute names in order.
func (a Attributes) Names() []string {
	names := make([]string, len(a))
	for i, attr := range a {
		names[i] = attr.Name
	}
	return names
}

// Map returns the attributes as a property map.
func (a Attributes) Map() map[string]any {
	m := make(map[string]any, len(a))
	for _, attr := range a {
		m[attr.Name] = attr.Value
	}
	return m
}

// PointFeature is a 2D point with attributes. Its identity is its position
// in the input slice.
type PointFeature struct {
	Geom  *geom.Point
	Attrs Attributes
}

// NewPoint builds an XY point feature with an undeclared SRID.
func NewPoint(x, y float64, attrs ...Attribute) PointFeature {
	return PointFeature{
		Geom:  geom.NewPointFlat(geom.XY, []float64{x, y}),
		Attrs: attrs,
	}
}

// X returns the point's x coordinate.
func (p PointFeature) X() float64 { return p.Geom.X() }

// Y returns the point's y coordinate.
func (p PointFeature) Y() float64 { return p.Geom.Y() }

// SRID returns the declared SRID, 0 when undeclared.
func (p PointFeature) SRID() int {
	if p.Geom == nil {
		return 0
	}
	return p.Geom.SRID()
}

// PolygonFeature is a polygon (outer ring followed by holes) or a
// multipolygon, plus attributes.
type PolygonFeature struct {
	Geom  geom.T
	Attrs Attributes
}

// NewPolygon builds an XY polygon feature from rings. The first ring is the
// outer boundary and the rest are holes. Open rings are closed.
func NewPolygon(rings [][]geom.Coord, attrs ...Attribute) (PolygonFeature, error) {
	closed := make([][]geom.Coord, len(rings))
	for i, ring := range rings {
		closed[i] = closeRing(ring)
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords(closed)
	if err != nil {
		return PolygonFeature{}, &MalformedGeometryError{Kind: "polygon", Index: -1, Ring: -1, Reason: err.Error()}
	}
	return PolygonFeature{Geom: poly, Attrs: attrs}, nil
}

// SRID returns the declared SRID, 0 when undeclared.
func (p PolygonFeature) SRID() int {
	switch g := p.Geom.(type) {
	case *geom.Polygon:
		return g.SRID()
	case *geom.MultiPolygon:
		return g.SRID()
	default:
		return 0
	}
}

// Label returns the named attribute rendered as text, or "" when absent.
func (p PolygonFeature) Label(attr string) string {
	if attr == "" {
		return ""
	}
	v, ok := p.Attrs.Get(attr)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// AggregateRecord is the per-polygon result of Aggregate.
type AggregateRecord struct {
	Index     int // position of Polygon in the input slice
	Polygon   PolygonFeature
	Count     int     // points assigned to Polygon
	Value     float64 // reducer output
	Defaulted bool    // Value is the reducer default because Count was zero
}

func closeRing(ring []geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if coordEqual(first, last) {
		return ring
	}
	out := make([]geom.Coord, len(ring), len(ring)+1)
	copy(out, ring)
	return append(out, first)
}

func coordEqual(a, b geom.Coord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
