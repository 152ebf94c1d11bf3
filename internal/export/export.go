// Package export writes aggregate records and filtered points in formats a
// renderer or spreadsheet can consume.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
	FormatXLSX    Format = "xlsx"
)

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatGeoJSON, FormatXLSX:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// FormatFromPath picks a format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".geojson":
		return FormatGeoJSON
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatJSON
	}
}

// Options controls record output.
type Options struct {
	LabelAttribute string // polygon attribute written as the label column
	Reducer        string // written to the "reducer" property / column
}

// Row is the flat, JSON-friendly form of an aggregate record. Value is nil
// when the reducer produced NaN or Inf.
type Row struct {
	Index     int            `json:"index"`
	Label     string         `json:"label,omitempty"`
	Reducer   string         `json:"reducer,omitempty"`
	Count     int            `json:"count"`
	Value     *float64       `json:"value"`
	Defaulted bool           `json:"defaulted"`
	Attrs     map[string]any `json:"attributes,omitempty"`
}

// Rows flattens records.
func Rows(records []spatial.AggregateRecord, opts Options) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{
			Index:     r.Index,
			Label:     r.Polygon.Label(opts.LabelAttribute),
			Reducer:   opts.Reducer,
			Count:     r.Count,
			Value:     finite(r.Value),
			Defaulted: r.Defaulted,
			Attrs:     r.Polygon.Attrs.Map(),
		}
	}
	return rows
}

// Write encodes records in the given format.
func Write(w io.Writer, format Format, records []spatial.AggregateRecord, opts Options) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, records, opts)
	case FormatCSV:
		return WriteCSV(w, records, opts)
	case FormatGeoJSON:
		return WriteGeoJSON(w, records, opts)
	case FormatXLSX:
		return WriteXLSX(w, records, opts)
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []spatial.AggregateRecord, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Rows(records, opts)); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

var csvHeader = []string{"index", "label", "count", "value", "defaulted", "geometry"}

// WriteCSV writes one line per record with the polygon geometry as WKT.
func WriteCSV(w io.Writer, records []spatial.AggregateRecord, opts Options) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		geomWKT, err := wkt.Marshal(r.Polygon.Geom)
		if err != nil {
			return eris.Wrapf(err, "export: encode wkt for polygon %d", r.Index)
		}
		if err := cw.Write([]string{
			strconv.Itoa(r.Index),
			r.Polygon.Label(opts.LabelAttribute),
			strconv.Itoa(r.Count),
			formatValue(r.Value),
			strconv.FormatBool(r.Defaulted),
			geomWKT,
		}); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// Collection renders records as polygon features whose properties are the
// polygon attributes plus count, value and defaulted.
func Collection(records []spatial.AggregateRecord, opts Options) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(records))}
	for _, r := range records {
		f := geoio.NewFeature(r.Polygon.Geom, r.Polygon.Attrs)
		f.Properties["count"] = r.Count
		f.Properties["value"] = finite(r.Value)
		f.Properties["defaulted"] = r.Defaulted
		if opts.Reducer != "" {
			f.Properties["reducer"] = opts.Reducer
		}
		fc.Features = append(fc.Features, f)
	}
	return fc
}

// WriteGeoJSON writes records as a FeatureCollection.
func WriteGeoJSON(w io.Writer, records []spatial.AggregateRecord, opts Options) error {
	if err := json.NewEncoder(w).Encode(Collection(records, opts)); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}

// WritePointsGeoJSON writes filtered points as a FeatureCollection.
func WritePointsGeoJSON(w io.Writer, points []spatial.PointFeature) error {
	if err := json.NewEncoder(w).Encode(geoio.PointCollection(points)); err != nil {
		return eris.Wrap(err, "export: encode points geojson")
	}
	return nil
}

// WriteXLSX writes records to a single "aggregates" sheet.
func WriteXLSX(w io.Writer, records []spatial.AggregateRecord, opts Options) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("aggregates")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range csvHeader[:5] {
		header.AddCell().SetString(h)
	}
	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.Index)
		row.AddCell().SetString(r.Polygon.Label(opts.LabelAttribute))
		row.AddCell().SetInt(r.Count)
		if v := finite(r.Value); v != nil {
			row.AddCell().SetFloat(*v)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetBool(r.Defaulted)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
