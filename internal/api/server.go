// Package api serves filter, assign and aggregate over HTTP. Layers travel
// as GeoJSON FeatureCollections.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geoclip/internal/spatial"
	"github.com/sells-group/geoclip/internal/store"
)

// Options configures a Server.
type Options struct {
	Workers        int
	SRID           int
	LabelAttribute string
	RateLimit      float64 // requests per second; 0 disables limiting
	Burst          int
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// Server holds the shared state behind the HTTP handlers.
type Server struct {
	store   store.Store
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewServer builds a Server. st may be nil, in which case run endpoints
// answer 501.
func NewServer(st store.Store, opts Options) *Server {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	s := &Server{
		store: st,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "api")),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = int(opts.RateLimit)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(burst, 1))
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/filter", s.handleFilter)
		r.Post("/assign", s.handleAssign)
		r.Post("/aggregate", s.handleAggregate)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http access",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to 422 and everything else to 500.
func statusFor(err error) int {
	switch {
	case spatial.IsInputMismatch(err), spatial.IsMalformedGeometry(err), spatial.IsEmptyReduction(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
