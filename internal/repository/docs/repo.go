// Package docs is the reference-document repository over Postgres/pgvector.
// Retrieval reads; only ingestion writes.
package docs

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/diewoo/doctor-capybara-sub000/internal/db/postgres"
	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

const selectColumns = `id, text, source, year, domain`

// Repo provides nearest-neighbor and keyword access to the docs table.
type Repo struct {
	pool *postgres.Pool
}

// New creates a docs repository.
func New(pool *postgres.Pool) *Repo {
	return &Repo{pool: pool}
}

// Upsert inserts or replaces a document by id.
func (r *Repo) Upsert(ctx context.Context, doc domain.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO docs (id, language, domain, topic, text, source, year, safety_tags, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			language = EXCLUDED.language,
			domain = EXCLUDED.domain,
			topic = EXCLUDED.topic,
			text = EXCLUDED.text,
			source = EXCLUDED.source,
			year = EXCLUDED.year,
			safety_tags = EXCLUDED.safety_tags,
			embedding = EXCLUDED.embedding`,
		doc.ID, doc.Language, doc.Domain, doc.Topic, doc.Text, doc.Source, doc.Year,
		doc.SafetyTags, pgvector.NewVector(doc.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert doc %s: %w", doc.ID, err)
	}
	return nil
}

// UpsertBatch upserts documents one statement at a time. Ingestion is an
// offline batch process; no transaction wraps the batch.
func (r *Repo) UpsertBatch(ctx context.Context, docs []domain.Document) error {
	for i := range docs {
		if err := r.Upsert(ctx, docs[i]); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

// SearchKNN returns the topK nearest documents for the given language,
// regardless of how similar they actually are.
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, language string, topK int) ([]domain.RetrievedDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM docs
		WHERE language = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(vector), language, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	return scanRetrieved(rows)
}

// SearchKNNThreshold returns nearest documents whose cosine similarity is at
// least minSimilarity.
func (r *Repo) SearchKNNThreshold(
	ctx context.Context, vector []float32, language string, minSimilarity float64, topK int,
) ([]domain.RetrievedDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM docs
		WHERE language = $2 AND embedding IS NOT NULL
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vector), language, minSimilarity, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("threshold search: %w", err)
	}
	return scanRetrieved(rows)
}

// SearchByCategory restricts the nearest-neighbor search to one domain value.
func (r *Repo) SearchByCategory(
	ctx context.Context, vector []float32, language, category string, topK int,
) ([]domain.RetrievedDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM docs
		WHERE language = $2 AND domain = $3 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vector), language, category, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("category search: %w", err)
	}
	return scanRetrieved(rows)
}

// SearchByKeywords matches documents whose text contains any of the terms.
// Scores are not meaningful here; callers stamp their own.
func (r *Repo) SearchByKeywords(
	ctx context.Context, keywords []string, language string, limit int,
) ([]domain.RetrievedDocument, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + strings.TrimSpace(kw) + "%"
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`, 0::float8 AS similarity
		FROM docs
		WHERE language = $1 AND text ILIKE ANY($2)
		LIMIT $3`,
		language, patterns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return scanRetrieved(rows)
}

// SearchCrossLanguage runs the nearest-neighbor search with no language
// filter. Last-resort stage when the corpus lacks matches in the query
// language.
func (r *Repo) SearchCrossLanguage(ctx context.Context, vector []float32, topK int) ([]domain.RetrievedDocument, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM docs
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("cross-language search: %w", err)
	}
	return scanRetrieved(rows)
}

// CategoriesByIDs returns the domain value for each known id.
func (r *Repo) CategoriesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, domain FROM docs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("categories lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out[id] = category
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("categories rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored documents.
func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM docs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count docs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Close()
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRetrieved(rows rowScanner) ([]domain.RetrievedDocument, error) {
	defer rows.Close()

	var out []domain.RetrievedDocument
	for rows.Next() {
		var d domain.RetrievedDocument
		if err := rows.Scan(&d.ID, &d.Text, &d.Source, &d.Year, &d.Category, &d.Score); err != nil {
			return nil, fmt.Errorf("scan doc: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
