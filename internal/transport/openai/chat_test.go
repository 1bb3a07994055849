package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestChatClient(url string) *ChatClient {
	return NewChatClient(&ChatConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Model:   "test-model",
		Logger:  zap.NewNop(),
	})
}

func TestChatClient_Complete(t *testing.T) {
	server := chatServer(t, `{"reply":"drink more water","suggestions":["How much is enough?","Does tea count?"]}`)
	defer server.Close()

	c := newTestChatClient(server.URL)

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAI, Content: "hi there"},
	}
	reply, err := c.Complete(context.Background(), "you are helpful", history, "any advice?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.Content != "drink more water" {
		t.Errorf("unexpected reply: %q", reply.Content)
	}
	if len(reply.Suggestions) != 2 || reply.Suggestions[0] != "How much is enough?" {
		t.Errorf("unexpected suggestions: %v", reply.Suggestions)
	}
}

func TestChatClient_Complete_PlainTextFallback(t *testing.T) {
	server := chatServer(t, "just drink more water")
	defer server.Close()

	c := newTestChatClient(server.URL)

	reply, err := c.Complete(context.Background(), "you are helpful", nil, "any advice?")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply.Content != "just drink more water" {
		t.Errorf("unexpected reply: %q", reply.Content)
	}
	if reply.Suggestions != nil {
		t.Errorf("expected no suggestions for unformatted reply, got %v", reply.Suggestions)
	}
}

func TestChatClient_AnalyzeQuery(t *testing.T) {
	server := chatServer(t, `{"category":"sleep","conditions":["insomnia"],"language":"es"}`)
	defer server.Close()

	c := newTestChatClient(server.URL)

	analysis, err := c.AnalyzeQuery(context.Background(), "No puedo dormir")
	if err != nil {
		t.Fatalf("AnalyzeQuery failed: %v", err)
	}
	if analysis.Category != "sleep" {
		t.Errorf("category = %q, want sleep", analysis.Category)
	}
	if len(analysis.Conditions) != 1 || analysis.Conditions[0] != "insomnia" {
		t.Errorf("unexpected conditions: %v", analysis.Conditions)
	}
	if analysis.Language != "es" {
		t.Errorf("language = %q, want es", analysis.Language)
	}
}

func TestChatClient_AnalyzeQuery_CodeFenced(t *testing.T) {
	server := chatServer(t, "```json\n{\"category\":\"stress\",\"conditions\":[],\"language\":\"en\"}\n```")
	defer server.Close()

	c := newTestChatClient(server.URL)

	analysis, err := c.AnalyzeQuery(context.Background(), "I feel overwhelmed")
	if err != nil {
		t.Fatalf("AnalyzeQuery failed: %v", err)
	}
	if analysis.Category != "stress" {
		t.Errorf("category = %q, want stress", analysis.Category)
	}
}

func TestChatClient_GenerateProfile(t *testing.T) {
	server := chatServer(t, `{"title":"Adult with insomnia","htmlDescription":"<p>35-year-old reporting sleep trouble</p>"}`)
	defer server.Close()

	c := newTestChatClient(server.URL)

	title, html, err := c.GenerateProfile(context.Background(), "35-year-old with insomnia")
	if err != nil {
		t.Fatalf("GenerateProfile failed: %v", err)
	}
	if title == "" || html == "" {
		t.Errorf("expected non-empty title and description, got %q / %q", title, html)
	}
}

func TestChatClient_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	c := newTestChatClient(server.URL)

	_, err := c.Complete(context.Background(), "sys", nil, "hi")
	if !errors.Is(err, domain.ErrChatProviderError) {
		t.Errorf("expected ErrChatProviderError, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range tests {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
