// Package server exposes ingestion, scraping and truth-table reads over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/enrich"
	"github.com/sells-group/truth-cli/internal/fetcher"
	"github.com/sells-group/truth-cli/internal/metrics"
	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/pipeline"
	"github.com/sells-group/truth-cli/internal/store"
)

// Runner runs ingestion batches.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*model.BatchResult, error)
	RunScrape(ctx context.Context, in pipeline.ScrapeInput) (*model.BatchResult, error)
}

// Records reads the truth table.
type Records interface {
	Ping(ctx context.Context) error
	FindByEmail(ctx context.Context, email string) (*model.ContactRecord, error)
	Search(ctx context.Context, q store.SearchQuery) ([]*model.ContactRecord, int64, error)
	Stats(ctx context.Context) (*store.Stats, error)
	ListColumns(ctx context.Context) ([]string, error)
}

// SpreadsheetReader parses uploaded files.
type SpreadsheetReader interface {
	ReadFrom(ctx context.Context, name string, src io.Reader) (*fetcher.Spreadsheet, error)
}

// Config configures the HTTP surface.
type Config struct {
	AllowedOrigins []string
	// MaxUploadBytes bounds multipart bodies. Zero means 50MB.
	MaxUploadBytes int64
	// LeadSource is applied to uploads that do not name one.
	LeadSource string
	// Enrich holds the defaults for requests that omit the flags.
	Enrich enrich.Options
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for export file names.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// Server holds the handlers' dependencies.
type Server struct {
	cfg     Config
	runner  Runner
	records Records
	reader  SpreadsheetReader
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Server.
func New(cfg Config, runner Runner, records Records, reader SpreadsheetReader, opts ...Option) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		records: records,
		reader:  reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/scrape", s.handleScrape)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/stats", s.handleStats)
		r.Get("/records/{email}", s.handleGetRecord)
		r.Get("/columns", s.handleColumns)
		r.Get("/export", s.handleExport)
	})
	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.records.Ping(r.Context()); err != nil {
		zap.L().Warn("server: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

type errorBody struct {
	Error  string             `json:"error"`
	Result *model.BatchResult `json:"result,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps read and parse errors onto HTTP statuses.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, fetcher.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, fetcher.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, fetcher.ErrTooManyRows):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
