package geoio

import (
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/geoclip/internal/spatial"
)

// ReadShapefile reads every record of a shapefile. Attributes keep DBF field
// order; N and F fields are parsed to float64. Shapes other than points and
// polygons are skipped.
func ReadShapefile(shpPath string, opts Options) ([]Feature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	dec, err := shapefileDecoder(shpPath, opts.Charset)
	if err != nil {
		return nil, err
	}

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}
		g = withSRID(g, opts.SRID)

		attrs := make(spatial.Attributes, 0, len(fields))
		for i, f := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs = append(attrs, spatial.Attribute{Name: names[i], Value: dbfValue(f.Fieldtype, raw, dec)})
		}
		features = append(features, Feature{Geom: g, Attrs: attrs})
	}

	if skipped > 0 {
		zap.L().Debug("geoio: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return features, nil
}

// FieldIndex returns the index of a named DBF field, or -1 if not found.
func FieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

func dbfValue(fieldType byte, raw string, dec *encoding.Decoder) any {
	if raw == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case 'L':
		switch strings.ToUpper(raw) {
		case "Y", "T":
			return true
		case "N", "F":
			return false
		}
		return nil
	default:
		if dec == nil {
			return raw
		}
		s, err := dec.String(raw)
		if err != nil {
			return raw
		}
		return s
	}
}

// shapefileDecoder resolves the DBF text encoding from the .cpg sidecar,
// falling back to the configured charset. A nil decoder means bytes are
// used as-is.
func shapefileDecoder(shpPath, fallback string) (*encoding.Decoder, error) {
	charset := fallback
	cpg := strings.TrimSuffix(shpPath, ".shp") + ".cpg"
	if data, err := os.ReadFile(cpg); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			charset = s
		}
	}
	if charset == "" {
		return nil, nil
	}

	enc, err := htmlindex.Get(normalizeCharset(charset))
	if err != nil {
		return nil, eris.Wrapf(err, "geoio: unsupported charset %q", charset)
	}
	return enc.NewDecoder(), nil
}

// normalizeCharset maps ESRI code page names ("1252", "ANSI 1252", "88591")
// to WHATWG labels.
func normalizeCharset(cs string) string {
	cs = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(cs), "ANSI"))
	switch cs {
	case "88591":
		return "iso-8859-1"
	case "UTF8":
		return "utf-8"
	}
	if _, err := strconv.Atoi(cs); err == nil {
		return "windows-" + cs
	}
	return cs
}

func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.Polygon:
		return polygonFromParts(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonFromParts(s.Parts, s.Points)
	default:
		return nil
	}
}

// polygonFromParts groups shapefile rings into polygons. Clockwise rings
// are outer boundaries; counter-clockwise rings are holes attached to the
// first outer ring containing them. Returns a *geom.Polygon for a single
// outer ring and a *geom.MultiPolygon otherwise.
func polygonFromParts(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	var shells, holes [][]float64
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(points)) {
			continue
		}

		ring := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			ring = append(ring, points[j].X, points[j].Y)
		}
		// Shapefile shells are clockwise, which go-geom reports as positive area.
		if xy.SignedArea(geom.XY, ring) >= 0 {
			shells = append(shells, ring)
		} else {
			holes = append(holes, ring)
		}
	}

	// Writers that ignore the orientation rule produce only CCW rings.
	if len(shells) == 0 {
		shells, holes = holes, nil
	}
	if len(shells) == 0 {
		return nil
	}

	rings := make([][][]float64, len(shells))
	for i, s := range shells {
		rings[i] = [][]float64{s}
	}
	for _, h := range holes {
		owner := -1
		for i, s := range shells {
			if xy.LocatePointInRing(geom.XY, geom.Coord{h[0], h[1]}, s) != location.Exterior {
				owner = i
				break
			}
		}
		if owner < 0 {
			rings = append(rings, [][]float64{h})
			continue
		}
		rings[owner] = append(rings[owner], h)
	}

	if len(rings) == 1 {
		return newFlatPolygon(rings[0])
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for i, r := range rings {
		if err := mp.Push(newFlatPolygon(r)); err != nil {
			zap.L().Debug("geoio: skipping malformed polygon part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func newFlatPolygon(rings [][]float64) *geom.Polygon {
	flat := make([]float64, 0)
	ends := make([]int, 0, len(rings))
	for _, r := range rings {
		flat = append(flat, r...)
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}
