package conversation

import (
	"context"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// ChatModel is the hosted LLM contract used by the conversation service.
type ChatModel interface {
	Complete(ctx context.Context, system string, turns []domain.ChatMessage, userMessage string) (domain.ChatReply, error)
	AnalyzeQuery(ctx context.Context, message string) (domain.QueryAnalysis, error)
	GenerateProfile(ctx context.Context, info string) (title, htmlDescription string, err error)
}

// Retriever fetches grounding context for a chat turn. RetrieveSmart already
// degrades internally; errors here are treated as "no context".
type Retriever interface {
	RetrieveSmart(ctx context.Context, query string, analysis domain.QueryAnalysis, topK int) ([]domain.RetrievedDocument, error)
}
