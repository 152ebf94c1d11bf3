package spatial

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// preparedPolygon holds the flat rings of one polygon feature and its
// bounding box. parts[i][0] is an outer ring, parts[i][1:] are its holes.
type preparedPolygon struct {
	layout geom.Layout
	bounds *geom.Bounds
	parts  [][][]float64
}

func prepare(p PolygonFeature) preparedPolygon {
	polys, _ := polygonParts(p.Geom)
	pp := preparedPolygon{
		layout: p.Geom.Layout(),
		bounds: p.Geom.Bounds(),
		parts:  make([][][]float64, 0, len(polys)),
	}
	for _, poly := range polys {
		rings := make([][]float64, poly.NumLinearRings())
		for i := range rings {
			rings[i] = poly.LinearRing(i).FlatCoords()
		}
		pp.parts = append(pp.parts, rings)
	}
	return pp
}

func (pp preparedPolygon) locate(c geom.Coord) location.Type {
	if !pp.bounds.OverlapsPoint(pp.layout, c) {
		return location.Exterior
	}
	result := location.Exterior
	for _, rings := range pp.parts {
		switch locateRings(pp.layout, c, rings) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			result = location.Boundary
		}
	}
	return result
}

func locateRings(layout geom.Layout, c geom.Coord, rings [][]float64) location.Type {
	loc := xy.LocatePointInRing(layout, c, rings[0])
	if loc != location.Interior {
		return loc
	}
	for _, hole := range rings[1:] {
		switch xy.LocatePointInRing(layout, c, hole) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}

// PolygonSet is a validated, prepared polygon collection. It is read-only
// after construction and safe for concurrent use.
type PolygonSet struct {
	features []PolygonFeature
	prepared []preparedPolygon
}

// NewPolygonSet validates polygons and prepares them for repeated
// containment tests.
func NewPolygonSet(polygons []PolygonFeature) (*PolygonSet, error) {
	for i, p := range polygons {
		if err := ValidatePolygon(i, p); err != nil {
			return nil, err
		}
	}
	if err := checkCompatible(nil, polygons); err != nil {
		return nil, err
	}

	s := &PolygonSet{
		features: polygons,
		prepared: make([]preparedPolygon, len(polygons)),
	}
	for i, p := range polygons {
		s.prepared[i] = prepare(p)
	}
	return s, nil
}

// Len returns the number of polygons in the set.
func (s *PolygonSet) Len() int { return len(s.features) }

// Polygon returns the i-th polygon feature.
func (s *PolygonSet) Polygon(i int) PolygonFeature { return s.features[i] }

// Locate classifies the point against polygon i.
func (s *PolygonSet) Locate(p PointFeature, i int) location.Type {
	return s.prepared[i].locate(p.Geom.Coords())
}

// Owner returns the index of the lowest-index polygon containing p
// (boundary included), or -1.
func (s *PolygonSet) Owner(p PointFeature) int {
	c := p.Geom.Coords()
	for i := range s.prepared {
		if s.prepared[i].locate(c) != location.Exterior {
			return i
		}
	}
	return -1
}

// Locate classifies a single point against a single polygon after
// validating both.
func Locate(p PointFeature, poly PolygonFeature) (location.Type, error) {
	if err := ValidatePoint(0, p); err != nil {
		return location.None, err
	}
	if err := ValidatePolygon(0, poly); err != nil {
		return location.None, err
	}
	if err := checkCompatible([]PointFeature{p}, []PolygonFeature{poly}); err != nil {
		return location.None, err
	}
	return prepare(poly).locate(p.Geom.Coords()), nil
}

// Contains reports whether poly contains p, counting the boundary as inside.
func Contains(p PointFeature, poly PolygonFeature) (bool, error) {
	loc, err := Locate(p, poly)
	if err != nil {
		return false, err
	}
	return loc != location.Exterior, nil
}
