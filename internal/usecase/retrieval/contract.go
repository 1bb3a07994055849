package retrieval

import (
	"context"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// Searcher defines the storage contract for retrieval operations.
type Searcher interface {
	SearchKNN(ctx context.Context, vector []float32, language string, topK int) ([]domain.RetrievedDocument, error)
	SearchKNNThreshold(ctx context.Context, vector []float32, language string, minSimilarity float64, topK int) ([]domain.RetrievedDocument, error)
	SearchByCategory(ctx context.Context, vector []float32, language, category string, topK int) ([]domain.RetrievedDocument, error)
	SearchByKeywords(ctx context.Context, keywords []string, language string, limit int) ([]domain.RetrievedDocument, error)
	SearchCrossLanguage(ctx context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error)
	CategoriesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// Filters narrows advanced retrieval to a document category.
type Filters struct {
	Category string
}
