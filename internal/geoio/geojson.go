package geoio

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geoclip/internal/spatial"
)

// ReadGeoJSON decodes a FeatureCollection. Features without geometry are
// dropped. Properties become attributes sorted by name.
func ReadGeoJSON(r io.Reader, opts Options) ([]Feature, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "geoio: decode geojson")
	}
	return FromCollection(&fc, opts), nil
}

// FromCollection converts decoded GeoJSON features.
func FromCollection(fc *geojson.FeatureCollection, opts Options) []Feature {
	if fc == nil {
		return nil
	}
	features := make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		features = append(features, Feature{
			Geom:  withSRID(f.Geometry, opts.SRID),
			Attrs: spatial.AttributesFromMap(f.Properties),
		})
	}
	return features
}

// PointCollection renders point features as a FeatureCollection.
func PointCollection(points []spatial.PointFeature) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	for _, p := range points {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   p.Geom,
			Properties: p.Attrs.Map(),
		})
	}
	return fc
}

// NewFeature builds a GeoJSON feature for g carrying attrs.
func NewFeature(g geom.T, attrs spatial.Attributes) *geojson.Feature {
	return &geojson.Feature{Geometry: g, Properties: attrs.Map()}
}
