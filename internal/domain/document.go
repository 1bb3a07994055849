package domain

// Document is a reference passage in the vector store. Immutable once
// ingested except for upsert-by-id replacement; retrieval only reads.
type Document struct {
	ID         string
	Language   string
	Domain     string
	Topic      string
	Text       string
	Source     string
	Year       int
	SafetyTags []string
	Embedding  []float32
}

// RetrievedDocument is a per-query projection of a Document with its
// similarity score. Never persisted.
type RetrievedDocument struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	Year     int     `json:"year"`
	Category string  `json:"category,omitempty"`
	Score    float64 `json:"score"`
}

// QueryAnalysis carries an upstream model's classification of a user query,
// used to steer staged retrieval.
type QueryAnalysis struct {
	Category   string   `json:"category"`
	Conditions []string `json:"conditions"`
	Language   string   `json:"language"`
}
