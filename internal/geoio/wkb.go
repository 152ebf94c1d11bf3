package geoio

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts a geometry to little-endian EWKB. When srid is
// non-zero it replaces the geometry's own SRID. Returns nil, nil for nil
// geometries.
func EncodeEWKB(g geom.T, srid int) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	g = withSRID(g, srid)

	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geoio: encode EWKB")
	}
	return data, nil
}

// DecodeEWKB parses EWKB bytes. Returns nil, nil for empty input.
func DecodeEWKB(data []byte) (geom.T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geoio: decode EWKB")
	}
	return g, nil
}
