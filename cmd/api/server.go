package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/WessleyAI/smartflix/engine/catalog"
	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/ingest"
	"github.com/WessleyAI/smartflix/pkg/fn"
	"github.com/WessleyAI/smartflix/pkg/metrics"
)

// debugSampleSize is how many leading catalog movies the debug endpoint checks.
const debugSampleSize = 5

type queryService interface {
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
	Recommend(ctx context.Context, id string) ([]domain.SearchResult, error)
}

type indexInspector interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
	Count(ctx context.Context) (uint64, error)
	Collection() string
}

type server struct {
	catalog      *catalog.Catalog
	query        queryService
	index        indexInspector
	reg          *metrics.Registry
	logger       *slog.Logger
	displayLimit int
	lastIngest   atomic.Pointer[ingest.Report]
}

func newServer(cat *catalog.Catalog, query queryService, index indexInspector, reg *metrics.Registry, logger *slog.Logger, displayLimit int) *server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &server{catalog: cat, query: query, index: index, reg: reg, logger: logger, displayLimit: displayLimit}
}

func (s *server) setLastIngest(r ingest.Report) { s.lastIngest.Store(&r) }

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/movies", s.handleMovies)
	mux.HandleFunc("GET /api/movies/{id}", s.handleMovie)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/recommendations/{movieId}", s.handleRecommendations)
	mux.HandleFunc("GET /api/debug/index", s.handleDebugIndex)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Smartflix API is running"})
}

func (s *server) handleMovies(w http.ResponseWriter, r *http.Request) {
	// Non-numeric values parse to 0 and fall back to the defaults.
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.catalog.Page(page, limit))
}

func (s *server) handleMovie(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, ok := s.catalog.Get(id)
	if !ok {
		s.writeError(w, domain.NewNotFoundError(id, domain.ErrMovieNotFound))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SearchResponse is the JSON response for GET /api/search.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.query.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// RecommendationsResponse is the JSON response for GET /api/recommendations/{movieId}.
type RecommendationsResponse struct {
	Recommendations []domain.SearchResult `json:"recommendations"`
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.query.Recommend(r.Context(), r.PathValue("movieId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := s.displayLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{Recommendations: fn.Take(recs, limit)})
}

// DebugSample reports whether one catalog movie is present in the index.
type DebugSample struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Indexed bool   `json:"indexed"`
	Dims    int    `json:"dims,omitempty"`
}

// DebugResponse is the JSON response for GET /api/debug/index.
type DebugResponse struct {
	Collection   string         `json:"collection"`
	Points       uint64         `json:"points"`
	CatalogTotal int            `json:"catalogTotal"`
	Sample       []DebugSample  `json:"sample"`
	LastIngest   *ingest.Report `json:"lastIngest,omitempty"`
}

func (s *server) handleDebugIndex(w http.ResponseWriter, r *http.Request) {
	head := s.catalog.Head(debugSampleSize)
	ids := fn.Map(head, func(m domain.Movie) string { return m.ID })

	var (
		vectors map[string][]float32
		points  uint64
	)
	errs := fn.FanOut(
		func() (err error) { vectors, err = s.index.Fetch(r.Context(), ids); return },
		func() (err error) { points, err = s.index.Count(r.Context()); return },
	)
	if err := errors.Join(errs...); err != nil {
		s.writeError(w, err)
		return
	}

	sample := fn.Map(head, func(m domain.Movie) DebugSample {
		vec, ok := vectors[m.ID]
		return DebugSample{ID: m.ID, Title: m.Title, Indexed: ok, Dims: len(vec)}
	})
	writeJSON(w, http.StatusOK, DebugResponse{
		Collection:   s.index.Collection(),
		Points:       points,
		CatalogTotal: s.catalog.Len(),
		Sample:       sample,
		LastIngest:   s.lastIngest.Load(),
	})
}

// --- Responses ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy to HTTP status codes. Provider
// failures are logged in full; callers only get a non-sensitive detail.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(ve)})
	case errors.Is(err, domain.ErrNotIndexed):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "movie not found in vector index"})
	case errors.Is(err, domain.ErrMovieNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "movie not found"})
	default:
		s.logger.Error("request failed", "err", err)
		body := map[string]string{"error": "internal server error"}
		if pe, ok := domain.AsProvider(err); ok {
			body["details"] = pe.Detail()
		}
		writeJSON(w, http.StatusInternalServerError, body)
	}
}

func validationMessage(ve *domain.ValidationError) string {
	if errors.Is(ve, domain.ErrInvalidQuery) && strings.TrimSpace(ve.Value) == "" {
		return "query parameter required"
	}
	return ve.Wrapped.Error()
}
