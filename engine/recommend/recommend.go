// Package recommend answers free-text search and "more like this" queries by
// delegating embedding and nearest-neighbour search to the configured
// providers. It holds no state besides the read-only catalog.
package recommend

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/smartflix/engine/catalog"
	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/semantic"
	"github.com/WessleyAI/smartflix/pkg/fn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the read side of the vector index.
type Index interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Match, error)
}

// Options configures result sizes.
type Options struct {
	SearchTopK    int
	RecommendTopK int
	// SearchTimeout bounds each index call; zero leaves it to the caller's context.
	SearchTimeout time.Duration
}

// DefaultOptions returns 10 search results and 20 recommendation candidates.
func DefaultOptions() Options {
	return Options{SearchTopK: 10, RecommendTopK: 20}
}

// Service is the query orchestrator.
type Service struct {
	embed   Embedder
	index   Index
	catalog *catalog.Catalog
	opts    Options
	logger  *slog.Logger
}

// New creates a Service. Non-positive TopK values take their defaults.
func New(embed Embedder, index Index, cat *catalog.Catalog, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.SearchTopK <= 0 {
		opts.SearchTopK = def.SearchTopK
	}
	if opts.RecommendTopK <= 0 {
		opts.RecommendTopK = def.RecommendTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embed: embed, index: index, catalog: cat, opts: opts, logger: logger}
}

// Search embeds query and returns up to SearchTopK results in index order.
func (s *Service) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query, err := domain.ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("engine/recommend").Start(ctx, "recommend.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("query.length", len(query)))

	embed := fn.TracedStage("recommend.embed", fn.Lift(s.embed.Embed))
	search := fn.TracedStage("recommend.search", fn.Lift(s.searchK(s.opts.SearchTopK)))

	matches, err := fn.Then(embed, search)(ctx, query).Unwrap()
	if err != nil {
		s.logProviderError("search", err)
		return nil, err
	}
	s.logger.Info("recommend: search done", "query_len", len(query), "results", len(matches))
	return fn.Map(matches, toResult), nil
}

// Recommend returns the movies most similar to id, excluding id itself, in
// index order. The stored vector is reused; the movie is never re-embedded.
func (s *Service) Recommend(ctx context.Context, id string) ([]domain.SearchResult, error) {
	id = domain.CanonicalID(strings.TrimSpace(id))
	if id == "" {
		return nil, domain.NewValidationError("movieId", id, domain.ErrInvalidID)
	}
	if !s.catalog.Contains(id) {
		return nil, domain.NewNotFoundError(id, domain.ErrMovieNotFound)
	}

	ctx, span := otel.Tracer("engine/recommend").Start(ctx, "recommend.Recommend")
	defer span.End()
	span.SetAttributes(attribute.String("movie.id", id))

	vectors, err := s.index.Fetch(ctx, []string{id})
	if err != nil {
		s.logProviderError("recommend", err)
		return nil, err
	}
	vec, ok := vectors[id]
	if !ok {
		return nil, domain.NewNotFoundError(id, domain.ErrNotIndexed)
	}

	matches, err := s.searchK(s.opts.RecommendTopK)(ctx, vec)
	if err != nil {
		s.logProviderError("recommend", err)
		return nil, err
	}
	others := fn.Filter(matches, func(m semantic.Match) bool { return domain.CanonicalID(m.ID) != id })
	s.logger.Info("recommend: recommendations done", "id", id, "results", len(others))
	return fn.Map(others, toResult), nil
}

func (s *Service) searchK(topK int) func(context.Context, []float32) ([]semantic.Match, error) {
	return func(ctx context.Context, vec []float32) ([]semantic.Match, error) {
		if s.opts.SearchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.SearchTimeout)
			defer cancel()
		}
		return s.index.Search(ctx, vec, topK)
	}
}

func (s *Service) logProviderError(op string, err error) {
	if pe, ok := domain.AsProvider(err); ok {
		s.logger.Error("recommend: provider failure", "op", op, "provider", pe.Provider, "provider_op", pe.Op, "error", pe.Err)
		return
	}
	s.logger.Error("recommend: failure", "op", op, "error", err)
}

func toResult(m semantic.Match) domain.SearchResult {
	return domain.SearchResult{ID: m.ID, Title: m.Title, Description: m.Description, Score: m.Score}
}
