package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/geoclip/internal/export"
	"github.com/sells-group/geoclip/internal/geoio"
	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

type layersRequest struct {
	Points   *geojson.FeatureCollection `json:"points"`
	Polygons *geojson.FeatureCollection `json:"polygons"`
	SRID     int                        `json:"srid"`
	Workers  int                        `json:"workers"`
}

type aggregateRequest struct {
	layersRequest
	Reducer        string   `json:"reducer"`
	Attribute      string   `json:"attribute"`
	Default        *float64 `json:"default"`
	LabelAttribute string   `json:"label_attribute"`
	Save           bool     `json:"save"`
}

type aggregateResponse struct {
	RunID   string       `json:"run_id,omitempty"`
	Reducer string       `json:"reducer"`
	Matched int          `json:"matched"`
	Records []export.Row `json:"records"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"store":  s.store != nil,
	})
}

// decode reads a JSON body bounded by MaxBodyBytes.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// layers converts the request collections to features. Features of the
// wrong geometry kind are dropped, matching file loading.
func (s *Server) layers(w http.ResponseWriter, req layersRequest) ([]spatial.PointFeature, []spatial.PolygonFeature, bool) {
	if req.Points == nil || req.Polygons == nil {
		writeError(w, http.StatusBadRequest, "points and polygons are required")
		return nil, nil, false
	}
	srid := req.SRID
	if srid == 0 {
		srid = s.opts.SRID
	}
	opts := geoio.Options{SRID: srid}
	points, skippedPts := geoio.Points(geoio.FromCollection(req.Points, opts))
	polygons, skippedPolys := geoio.Polygons(geoio.FromCollection(req.Polygons, opts))
	if skippedPts > 0 || skippedPolys > 0 {
		s.log.Debug("skipped features of the wrong kind",
			zap.Int("points", skippedPts), zap.Int("polygons", skippedPolys))
	}
	return points, polygons, true
}

func (s *Server) workers(n int) spatial.Option {
	if n < 1 {
		n = s.opts.Workers
	}
	return spatial.WithWorkers(n)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req layersRequest
	if !s.decode(w, r, &req) {
		return
	}
	points, polygons, ok := s.layers(w, req)
	if !ok {
		return
	}

	kept, err := spatial.Filter(points, polygons, s.workers(req.Workers))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, geoio.PointCollection(kept))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req layersRequest
	if !s.decode(w, r, &req) {
		return
	}
	points, polygons, ok := s.layers(w, req)
	if !ok {
		return
	}

	owners, err := spatial.Assign(points, polygons, s.workers(req.Workers))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owners": owners})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if !s.decode(w, r, &req) {
		return
	}
	reducer, err := spatial.ParseReducer(req.Reducer, req.Attribute)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Default != nil {
		reducer = reducer.WithDefault(*req.Default)
	}
	if req.Save && s.store == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}
	points, polygons, ok := s.layers(w, req.layersRequest)
	if !ok {
		return
	}

	records, err := spatial.Aggregate(points, polygons, reducer, s.workers(req.Workers))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	label := req.LabelAttribute
	if label == "" {
		label = s.opts.LabelAttribute
	}
	opts := export.Options{LabelAttribute: label, Reducer: reducer.String()}

	var runID string
	if req.Save {
		run, err := store.NewRun(reducer, store.Source{Points: "request", Polygons: "request", LabelAttribute: label}, len(points), records)
		if err == nil {
			err = s.store.SaveRun(r.Context(), run)
		}
		if err != nil {
			s.log.Error("save run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "save run failed")
			return
		}
		runID = run.ID
	}

	if r.URL.Query().Get("format") == string(export.FormatGeoJSON) {
		if runID != "" {
			w.Header().Set("X-Run-ID", runID)
		}
		writeJSON(w, http.StatusOK, export.Collection(records, opts))
		return
	}
	writeJSON(w, http.StatusOK, aggregateResponse{
		RunID:   runID,
		Reducer: reducer.String(),
		Matched: spatial.Matched(records),
		Records: export.Rows(records, opts),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, "no run store configured")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.log.Error("get run failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get run failed")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if r.URL.Query().Get("format") == string(export.FormatGeoJSON) {
		fc, err := runCollection(run)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, fc)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runCollection rebuilds a stored run as polygon features.
func runCollection(run *store.Run) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(run.Records))}
	for _, rec := range run.Records {
		g, err := geoio.DecodeEWKB(rec.Geometry)
		if err != nil {
			return nil, err
		}
		attrs := spatial.Attributes{
			{Name: "index", Value: rec.PolygonIndex},
			{Name: "label", Value: rec.Label},
			{Name: "count", Value: rec.Count},
			{Name: "value", Value: rec.Value},
			{Name: "defaulted", Value: rec.Defaulted},
		}
		fc.Features = append(fc.Features, geoio.NewFeature(g, attrs))
	}
	return fc, nil
}
