package spatial

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// ValidatePoint checks that a point feature has a finite coordinate.
func ValidatePoint(idx int, p PointFeature) error {
	if p.Geom == nil || p.Geom.Empty() {
		return &MalformedGeometryError{Kind: "point", Index: idx, Ring: -1, Reason: "missing geometry"}
	}
	for _, v := range p.Geom.FlatCoords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &MalformedGeometryError{Kind: "point", Index: idx, Ring: -1, Reason: "non-finite coordinate"}
		}
	}
	return nil
}

// ValidatePolygon checks every ring of a polygon feature: closed, finite,
// and at least three distinct vertices.
func ValidatePolygon(idx int, p PolygonFeature) error {
	parts, err := polygonParts(p.Geom)
	if err != nil {
		return &MalformedGeometryError{Kind: "polygon", Index: idx, Ring: -1, Reason: err.Error()}
	}
	if len(parts) == 0 {
		return &MalformedGeometryError{Kind: "polygon", Index: idx, Ring: -1, Reason: "no rings"}
	}

	ringNo := 0
	for _, poly := range parts {
		if poly.NumLinearRings() == 0 {
			return &MalformedGeometryError{Kind: "polygon", Index: idx, Ring: -1, Reason: "polygon part without rings"}
		}
		for i := 0; i < poly.NumLinearRings(); i++ {
			if reason := checkRing(poly.LinearRing(i)); reason != "" {
				return &MalformedGeometryError{Kind: "polygon", Index: idx, Ring: ringNo, Reason: reason}
			}
			ringNo++
		}
	}
	return nil
}

func checkRing(lr *geom.LinearRing) string {
	n := lr.NumCoords()
	if n == 0 {
		return "empty ring"
	}
	for _, v := range lr.FlatCoords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite coordinate"
		}
	}
	if !coordEqual(lr.Coord(0), lr.Coord(n-1)) {
		return "ring is not closed"
	}

	distinct := make(map[[2]float64]struct{}, n)
	for i := 0; i < n-1; i++ {
		c := lr.Coord(i)
		distinct[[2]float64{c.X(), c.Y()}] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Sprintf("ring has %d distinct vertices, need at least 3", len(distinct))
	}
	return ""
}

// polygonParts flattens a polygonal geometry to its polygons.
func polygonParts(g geom.T) ([]*geom.Polygon, error) {
	switch t := g.(type) {
	case nil:
		return nil, fmt.Errorf("missing geometry")
	case *geom.Polygon:
		if t == nil {
			return nil, fmt.Errorf("missing geometry")
		}
		return []*geom.Polygon{t}, nil
	case *geom.MultiPolygon:
		if t == nil {
			return nil, fmt.Errorf("missing geometry")
		}
		parts := make([]*geom.Polygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			parts = append(parts, t.Polygon(i))
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

// checkCompatible enforces one SRID and one coordinate layout across both
// collections. SRID 0 means undeclared and matches anything.
func checkCompatible(points []PointFeature, polygons []PolygonFeature) error {
	srid, sridFrom := 0, ""
	noteSRID := func(s int, from string) error {
		if s == 0 {
			return nil
		}
		if srid == 0 {
			srid, sridFrom = s, from
			return nil
		}
		if s != srid {
			return NewInputMismatchError("%s has SRID %d but %s has SRID %d", from, s, sridFrom, srid)
		}
		return nil
	}

	var layout geom.Layout
	layoutFrom := ""
	noteLayout := func(l geom.Layout, from string) error {
		if layoutFrom == "" {
			layout, layoutFrom = l, from
			return nil
		}
		if l != layout {
			return NewInputMismatchError("%s has layout %v but %s has layout %v", from, l, layoutFrom, layout)
		}
		return nil
	}

	for i, p := range polygons {
		from := fmt.Sprintf("polygon %d", i)
		if err := noteSRID(p.SRID(), from); err != nil {
			return err
		}
		if err := noteLayout(p.Geom.Layout(), from); err != nil {
			return err
		}
	}
	for i, p := range points {
		from := fmt.Sprintf("point %d", i)
		if err := noteSRID(p.SRID(), from); err != nil {
			return err
		}
		if err := noteLayout(p.Geom.Layout(), from); err != nil {
			return err
		}
	}
	return nil
}
