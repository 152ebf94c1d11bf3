// Package geoio loads point and polygon features from shapefiles and GeoJSON
// and encodes geometries for storage.
package geoio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/geoclip/internal/spatial"
)

// Feature is a decoded geometry plus its attributes, before it is narrowed
// to a point or polygon feature.
type Feature struct {
	Geom  geom.T
	Attrs spatial.Attributes
}

// Options controls how files are decoded.
type Options struct {
	SRID    int    // stamped on every geometry when non-zero
	Charset string // DBF charset used when no .cpg sidecar exists
}

// ReadFile decodes all features in path, choosing the reader by extension.
func ReadFile(path string, opts Options) ([]Feature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, opts)
	case ".geojson", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "geoio: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadGeoJSON(f, opts)
	default:
		return nil, eris.Errorf("geoio: unsupported file type %q", filepath.Ext(path))
	}
}

// LoadPoints reads path and keeps the point features.
func LoadPoints(path string, opts Options) ([]spatial.PointFeature, error) {
	features, err := ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	points, skipped := Points(features)
	logSkipped(path, "point", len(points), skipped)
	return points, nil
}

// LoadPolygons reads path and keeps the polygon and multipolygon features.
func LoadPolygons(path string, opts Options) ([]spatial.PolygonFeature, error) {
	features, err := ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	polygons, skipped := Polygons(features)
	logSkipped(path, "polygon", len(polygons), skipped)
	return polygons, nil
}

// Points narrows features to point features and reports how many were
// dropped.
func Points(features []Feature) ([]spatial.PointFeature, int) {
	points := make([]spatial.PointFeature, 0, len(features))
	var skipped int
	for _, f := range features {
		p, ok := f.Geom.(*geom.Point)
		if !ok || p == nil {
			skipped++
			continue
		}
		points = append(points, spatial.PointFeature{Geom: p, Attrs: f.Attrs})
	}
	return points, skipped
}

// Polygons narrows features to polygon features and reports how many were
// dropped.
func Polygons(features []Feature) ([]spatial.PolygonFeature, int) {
	polygons := make([]spatial.PolygonFeature, 0, len(features))
	var skipped int
	for _, f := range features {
		switch f.Geom.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			polygons = append(polygons, spatial.PolygonFeature{Geom: f.Geom, Attrs: f.Attrs})
		default:
			skipped++
		}
	}
	return polygons, skipped
}

func logSkipped(path, kind string, kept, skipped int) {
	log := zap.L().With(zap.String("component", "geoio"))
	log.Info("loaded features",
		zap.String("path", path),
		zap.String("kind", kind),
		zap.Int("features", kept),
	)
	if skipped > 0 {
		log.Warn("skipped features of other geometry types",
			zap.String("path", path),
			zap.String("kind", kind),
			zap.Int("skipped", skipped),
		)
	}
}

// withSRID stamps srid on g when srid is non-zero.
func withSRID(g geom.T, srid int) geom.T {
	if srid == 0 {
		return g
	}
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	default:
		return g
	}
}
