package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/metrics"
)

// ChatClient calls the hosted chat model through the OpenAI-compatible API.
type ChatClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// ChatConfig holds the chat model settings.
type ChatConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// NewChatClient creates a chat model client.
func NewChatClient(cfg *ChatConfig) *ChatClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &ChatClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

// replyFormat is appended to the caller's system prompt so one completion
// yields both the answer and the follow-up suggestions.
const replyFormat = `Respond with a JSON object with keys "reply" (your answer ` +
	`to the user) and "suggestions" (2-3 short follow-up questions the user ` +
	`might ask next, in the user's language). Respond with JSON only.`

// Complete sends a system prompt plus conversation turns and returns the
// model's reply with follow-up suggestions. A model that ignores the JSON
// format still yields a usable reply: the raw text is returned with no
// suggestions.
func (c *ChatClient) Complete(ctx context.Context, system string, turns []domain.ChatMessage, userMessage string) (domain.ChatReply, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+3)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: replyFormat,
	})
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAI {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	raw, err := c.complete(ctx, msgs, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return domain.ChatReply{}, err
	}

	var parsed struct {
		Reply       string   `json:"reply"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil || parsed.Reply == "" {
		c.logger.Warn("chat reply not in expected format, using raw text",
			zap.String("model", c.model))
		return domain.ChatReply{Content: raw}, nil
	}
	return domain.ChatReply{Content: parsed.Reply, Suggestions: parsed.Suggestions}, nil
}

// AnalyzeQuery asks the model to classify a user message into a category,
// condition keywords, and language. Used to steer staged retrieval.
func (c *ChatClient) AnalyzeQuery(ctx context.Context, message string) (domain.QueryAnalysis, error) {
	system := "You are a classifier for a wellness assistant. " +
		"Given a user message, respond with a JSON object with keys " +
		`"category" (one of: sleep, nutrition, exercise, stress, general), ` +
		`"conditions" (array of condition keywords mentioned or implied), ` +
		`"language" (ISO 639-1 code of the message). Respond with JSON only.`

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}

	raw, err := c.complete(ctx, msgs, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return domain.QueryAnalysis{}, err
	}

	var analysis domain.QueryAnalysis
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &analysis); err != nil {
		return domain.QueryAnalysis{}, fmt.Errorf("parse analysis %q: %w", raw, domain.ErrChatProviderError)
	}
	return analysis, nil
}

// GenerateProfile produces a short title and an HTML description for a
// patient from free-text intake info.
func (c *ChatClient) GenerateProfile(ctx context.Context, info string) (title, htmlDescription string, err error) {
	system := "You are a wellness assistant. Given patient intake notes, respond " +
		`with a JSON object with keys "title" (a short descriptive title, max 10 words) ` +
		`and "htmlDescription" (a brief patient summary as simple HTML using only ` +
		"<p>, <ul>, <li>, <strong> tags). Respond with JSON only."

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: info},
	}

	raw, err := c.complete(ctx, msgs, &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return "", "", err
	}

	var profile struct {
		Title           string `json:"title"`
		HTMLDescription string `json:"htmlDescription"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &profile); err != nil {
		return "", "", fmt.Errorf("parse profile %q: %w", raw, domain.ErrChatProviderError)
	}
	return profile.Title, profile.HTMLDescription, nil
}

func (c *ChatClient) complete(
	ctx context.Context,
	msgs []openai.ChatCompletionMessage,
	format *openai.ChatCompletionResponseFormat,
) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       msgs,
		ResponseFormat: format,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", parseChatAPIError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.ChatRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("empty chat response: %w", domain.ErrChatProviderError)
	}

	metrics.ChatRequestsTotal.WithLabelValues(c.model, "success").Inc()
	metrics.ChatRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())

	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding ```json fence some models insist on
// emitting even in JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseChatAPIError(err error) error {
	wrap := domain.ErrChatProviderError

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("chat API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("chat API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	return fmt.Errorf("chat request failed: %w", wrap)
}
