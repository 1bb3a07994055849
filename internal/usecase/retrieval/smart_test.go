package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

func analysis() domain.QueryAnalysis {
	return domain.QueryAnalysis{
		Category:   "sleep",
		Conditions: []string{"insomnia"},
		Language:   "es",
	}
}

func TestRetrieveSmart_NoDuplicateIDs(t *testing.T) {
	repo := &mockSearcher{
		categoryResults: docs("a", "b"),
		keywordResults:  docs("b", "c"),
		knnResults:      docs("c", "d"),
	}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.ID] {
			t.Fatalf("duplicate id %q in smart results", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestRetrieveSmart_StagePriorityPreserved(t *testing.T) {
	repo := &mockSearcher{
		categoryResults: []domain.RetrievedDocument{{ID: "a", Text: "category version", Category: "sleep"}},
		keywordResults:  []domain.RetrievedDocument{{ID: "a", Text: "keyword version"}},
	}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Text != "category version" {
		t.Fatalf("category stage must win dedupe, got %q", results[0].Text)
	}
}

func TestRetrieveSmart_CategoryStageErrorDegrades(t *testing.T) {
	repo := &mockSearcher{
		categoryErr:    errors.New("db down"),
		keywordResults: docs("k"),
		knnResults:     docs("v"),
	}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 5)
	if err != nil {
		t.Fatalf("stage errors must degrade, not fail: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results from surviving stages")
	}
}

func TestRetrieveSmart_SkipsLaterStagesWhenBudgetMet(t *testing.T) {
	repo := &mockSearcher{
		categoryResults: docs("a", "b", "c"),
	}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	_, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.keywordCalls != 0 || repo.knnCalls != 0 || repo.crossCalls != 0 {
		t.Fatalf("later stages must be skipped when budget is met: kw=%d knn=%d cross=%d",
			repo.keywordCalls, repo.knnCalls, repo.crossCalls)
	}
}

func TestRetrieveSmart_CrossLanguageLastResort(t *testing.T) {
	repo := &mockSearcher{
		crossResults: docs("x"),
	}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.crossCalls != 1 {
		t.Fatal("expected cross-language stage to run when earlier stages are empty")
	}
	if len(results) != 1 || results[0].ID != "x" {
		t.Fatalf("unexpected results: %v", results)
	}
}

func TestRetrieveSmart_EmptyCorpus(t *testing.T) {
	repo := &mockSearcher{}
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", analysis(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %v", results)
	}
}

func TestRetrieveSmart_SemanticFilterDropsIrrelevant(t *testing.T) {
	repo := &mockSearcher{
		categoryResults: []domain.RetrievedDocument{
			{ID: "rel", Text: "relevant"},
			{ID: "irr", Text: "irrelevant"},
		},
	}
	embed := &fakeEmbedder{
		def: []float32{1, 0},
		vectors: map[string][]float32{
			"query":      {1, 0},
			"relevant":   {1, 0},     // sim 1
			"irrelevant": {-1, 0.01}, // sim ~ -1
		},
	}
	svc := New(repo, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	results, err := svc.RetrieveSmart(context.Background(), "query", domain.QueryAnalysis{Category: "sleep", Language: "es"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range results {
		if r.ID == "irr" {
			t.Fatal("semantic filter should drop the irrelevant candidate")
		}
	}
	if len(results) != 1 || results[0].ID != "rel" {
		t.Fatalf("expected only the relevant doc, got %v", results)
	}
}

func TestSemanticFilter_NeverEmptyWhenCandidatesExist(t *testing.T) {
	embed := &fakeEmbedder{def: []float32{1, 0}}
	svc := New(&mockSearcher{}, embed, &fakeEmbedder{def: []float32{0, 1}}, testConfig())

	candidates := docs("a", "b", "c")
	kept := svc.semanticFilter(context.Background(), "query", candidates)
	if len(kept) == 0 {
		t.Fatal("semantic filter must never return an empty set for non-empty input")
	}
}

func TestDedupeByID_FirstOccurrenceWins(t *testing.T) {
	in := []domain.RetrievedDocument{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
		{ID: "a", Text: "third"},
	}
	out := dedupeByID(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique docs, got %d", len(out))
	}
	if out[0].Text != "first" {
		t.Fatalf("first occurrence must win, got %q", out[0].Text)
	}
}
