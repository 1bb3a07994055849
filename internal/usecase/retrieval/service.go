// Package retrieval implements the RAG retrieval pipeline: basic
// nearest-neighbor search, a descending threshold ladder, and AI-assisted
// staged search with a semantic relevance filter. Errors never propagate to
// the chat turn; every failure degrades to a cheaper strategy.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/config"
	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/logger"
	"github.com/diewoo/doctor-capybara-sub000/internal/metrics"
)

// Service handles reference-document retrieval.
type Service struct {
	repo     Searcher
	embed    domain.Embedder // primary chain (worker, cache)
	fallback domain.Embedder // hash embedder, dimensionally compatible only
	cfg      config.RetrievalConfig
}

// New creates a retrieval service.
func New(repo Searcher, embed, fallback domain.Embedder, cfg config.RetrievalConfig) *Service {
	return &Service{repo: repo, embed: embed, fallback: fallback, cfg: cfg}
}

// Retrieve embeds the query and returns the topK nearest documents for the
// language, with no similarity floor. Can return irrelevant results when the
// corpus lacks close matches.
func (s *Service) Retrieve(ctx context.Context, query, language string, topK int) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	vec := s.embedOrFallback(ctx, query)

	results, err := s.repo.SearchKNN(ctx, vec, language, topK)
	if err != nil {
		metrics.RetrievalStageTotal.WithLabelValues("basic", "error").Inc()
		return nil, err
	}
	metrics.RetrievalStageTotal.WithLabelValues("basic", "ok").Inc()
	return results, nil
}

// RetrieveAdvanced walks the descending threshold ladder, one search per
// rung, and stops at the first non-empty result set. On any embedding or
// database error it degrades to Retrieve and stamps the fallback score.
func (s *Service) RetrieveAdvanced(
	ctx context.Context, query, language string, filters *Filters, topK int,
) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	log := logger.FromContext(ctx)

	embRes, err := s.embed.Embed(ctx, query)
	if err != nil {
		log.Warn("advanced retrieval: embedding failed, degrading to basic", zap.Error(err))
		return s.degradeToBasic(ctx, query, language, topK)
	}

	for _, threshold := range s.cfg.Thresholds {
		results, err := s.repo.SearchKNNThreshold(ctx, embRes.Embedding, language, threshold, topK)
		if err != nil {
			log.Warn("advanced retrieval: search failed, degrading to basic",
				zap.Float64("threshold", threshold), zap.Error(err))
			return s.degradeToBasic(ctx, query, language, topK)
		}
		if len(results) == 0 {
			continue
		}

		// First rung with rows wins; the ladder never continues past it.
		if filters != nil && filters.Category != "" {
			results = s.filterByCategory(ctx, results, filters.Category)
		}
		metrics.RetrievalStageTotal.WithLabelValues("advanced", "ok").Inc()
		return results, nil
	}

	metrics.RetrievalStageTotal.WithLabelValues("advanced", "empty").Inc()
	return nil, nil
}

// filterByCategory keeps results whose stored domain matches category.
// Lookup errors leave the result set unfiltered.
func (s *Service) filterByCategory(
	ctx context.Context, results []domain.RetrievedDocument, category string,
) []domain.RetrievedDocument {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	categories, err := s.repo.CategoriesByIDs(ctx, ids)
	if err != nil {
		logger.FromContext(ctx).Warn("category lookup failed, returning unfiltered", zap.Error(err))
		return results
	}

	filtered := results[:0]
	for _, r := range results {
		if categories[r.ID] == category {
			r.Category = category
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// degradeToBasic runs the basic search and stamps the fixed fallback score.
func (s *Service) degradeToBasic(ctx context.Context, query, language string, topK int) ([]domain.RetrievedDocument, error) {
	results, err := s.Retrieve(ctx, query, language, topK)
	if err != nil {
		metrics.RetrievalStageTotal.WithLabelValues("advanced", "error").Inc()
		// Prefer an empty context block over failing the chat turn.
		return nil, nil
	}
	for i := range results {
		results[i].Score = s.cfg.FallbackScore
	}
	return results, nil
}

// embedOrFallback embeds with the primary provider and silently falls back
// to the hash embedder, which is only dimensionally compatible.
func (s *Service) embedOrFallback(ctx context.Context, query string) []float32 {
	embRes, err := s.embed.Embed(ctx, query)
	if err == nil {
		return embRes.Embedding
	}

	logger.FromContext(ctx).Warn("primary embedding failed, using hash fallback", zap.Error(err))
	metrics.EmbeddingFallbackTotal.Inc()

	fbRes, fbErr := s.fallback.Embed(ctx, query)
	if fbErr != nil {
		// The hash embedder cannot actually fail; guard anyway.
		return nil
	}
	return fbRes.Embedding
}
