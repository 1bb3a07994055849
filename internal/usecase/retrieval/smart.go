package retrieval

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/logger"
	"github.com/diewoo/doctor-capybara-sub000/internal/metrics"
)

// RetrieveSmart runs the staged, AI-assisted search. analysis carries an
// upstream model's category/condition/language classification of the query.
// Stage order fixes result priority: category match, condition keywords,
// plain vector search, cross-language. Candidates are deduplicated by id
// (first occurrence wins) and passed through the semantic relevance filter.
func (s *Service) RetrieveSmart(
	ctx context.Context, query string, analysis domain.QueryAnalysis, topK int,
) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	log := logger.FromContext(ctx)
	language := analysis.Language

	vec := s.embedOrFallback(ctx, query)

	var candidates []domain.RetrievedDocument

	// Stage 1: category-filtered search with ~70% of the budget.
	if analysis.Category != "" {
		budget := int(math.Ceil(float64(topK) * s.cfg.CategoryShare))
		results, err := s.repo.SearchByCategory(ctx, vec, language, analysis.Category, budget)
		if err != nil {
			log.Warn("smart retrieval: category stage failed", zap.Error(err))
			metrics.RetrievalStageTotal.WithLabelValues("smart_category", "error").Inc()
		} else {
			metrics.RetrievalStageTotal.WithLabelValues("smart_category", "ok").Inc()
			candidates = append(candidates, results...)
		}
	}

	// Stage 2: keyword search over AI-identified condition terms.
	if remaining := topK - len(candidates); remaining > 0 && len(analysis.Conditions) > 0 {
		results, err := s.repo.SearchByKeywords(ctx, analysis.Conditions, language, remaining)
		if err != nil {
			log.Warn("smart retrieval: keyword stage failed", zap.Error(err))
			metrics.RetrievalStageTotal.WithLabelValues("smart_keyword", "error").Inc()
		} else {
			metrics.RetrievalStageTotal.WithLabelValues("smart_keyword", "ok").Inc()
			candidates = append(candidates, results...)
		}
	}

	// Stage 3: unfiltered vector search.
	if remaining := topK - len(candidates); remaining > 0 {
		results, err := s.repo.SearchKNN(ctx, vec, language, remaining)
		if err != nil {
			log.Warn("smart retrieval: vector stage failed", zap.Error(err))
			metrics.RetrievalStageTotal.WithLabelValues("smart_vector", "error").Inc()
		} else {
			candidates = append(candidates, results...)
		}
	}

	// Stage 4: cross-language as the last resort.
	if remaining := topK - len(candidates); remaining > 0 {
		results, err := s.repo.SearchCrossLanguage(ctx, vec, remaining)
		if err != nil {
			log.Warn("smart retrieval: cross-language stage failed", zap.Error(err))
		} else {
			candidates = append(candidates, results...)
		}
	}

	candidates = dedupeByID(candidates)
	if len(candidates) == 0 {
		metrics.RetrievalStageTotal.WithLabelValues("smart", "empty").Inc()
		return nil, nil
	}

	kept := s.semanticFilter(ctx, query, candidates)
	metrics.RetrievalStageTotal.WithLabelValues("smart", "ok").Inc()
	return kept, nil
}

// semanticFilter re-embeds each candidate's "category + text" and the query,
// computes cosine similarity, and keeps candidates above an adaptive cutoff
// derived from the score distribution. If nothing clears the bar, the top
// MinKeep by similarity are returned rather than an empty set.
func (s *Service) semanticFilter(
	ctx context.Context, query string, candidates []domain.RetrievedDocument,
) []domain.RetrievedDocument {
	queryVec := s.embedOrFallback(ctx, query)
	if len(queryVec) == 0 {
		return candidates
	}

	sims := make([]float64, len(candidates))
	var sum, maxSim float64
	for i, c := range candidates {
		text := c.Text
		if c.Category != "" {
			text = c.Category + " " + c.Text
		}
		candVec := s.embedOrFallback(ctx, text)
		sims[i] = domain.CosineSimilarity(queryVec, candVec)
		sum += sims[i]
		if sims[i] > maxSim {
			maxSim = sims[i]
		}
	}

	mean := sum / float64(len(candidates))
	cutoff := math.Min(mean, math.Min(s.cfg.MaxShare*maxSim, s.cfg.MaxCutoff))

	baseThreshold := s.cfg.MaxCutoff
	if n := len(s.cfg.Thresholds); n > 0 {
		baseThreshold = s.cfg.Thresholds[n-1]
	}
	bar := math.Min(baseThreshold, cutoff)

	var kept []domain.RetrievedDocument
	for i, c := range candidates {
		if sims[i] >= bar {
			c.Score = sims[i]
			kept = append(kept, c)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	// Nothing cleared the bar: keep the best few instead of returning nothing.
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return sims[idx[a]] > sims[idx[b]] })

	n := s.cfg.MinKeep
	if n > len(candidates) {
		n = len(candidates)
	}
	kept = make([]domain.RetrievedDocument, 0, n)
	for _, i := range idx[:n] {
		c := candidates[i]
		c.Score = sims[i]
		kept = append(kept, c)
	}
	return kept
}

// dedupeByID removes duplicate ids, keeping the first occurrence so earlier
// stages retain priority.
func dedupeByID(docs []domain.RetrievedDocument) []domain.RetrievedDocument {
	seen := make(map[string]struct{}, len(docs))
	out := docs[:0]
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
