package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/config"
	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	"github.com/diewoo/doctor-capybara-sub000/internal/repository/patient"
)

// Service drives the patient lifecycle and the chat loop.
type Service struct {
	store     patient.Store
	chat      ChatModel
	retriever Retriever
	limiter   *rateLimiter
	cfg       config.ChatConfig
	topK      int
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the conversation service. Retriever may be nil when the
// document store is unavailable; chat then runs without grounding context.
func NewService(store patient.Store, chat ChatModel, retriever Retriever, cfg config.ChatConfig, topK int, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		chat:      chat,
		retriever: retriever,
		limiter:   newRateLimiter(cfg.MessagesPerMin, time.Minute),
		cfg:       cfg,
		topK:      topK,
		logger:    logger,
		now:       time.Now,
	}
}

// CreatePatient validates the intake text, generates a profile for it, and
// stores the new patient.
func (s *Service) CreatePatient(ctx context.Context, info, preferredLanguage string) (*domain.Patient, error) {
	info = strings.TrimSpace(info)
	if info == "" {
		return nil, fmt.Errorf("%w: patient info is required", domain.ErrValidation)
	}
	if s.cfg.MaxInfoLen > 0 && len(info) > s.cfg.MaxInfoLen {
		return nil, fmt.Errorf("%w: patient info exceeds %d characters", domain.ErrValidation, s.cfg.MaxInfoLen)
	}

	title, htmlDescription, err := s.chat.GenerateProfile(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("generate profile: %w", err)
	}

	now := s.now()
	p := &domain.Patient{
		ID:                uuid.NewString(),
		Info:              info,
		Title:             title,
		HTMLDescription:   htmlDescription,
		PreferredLanguage: preferredLanguage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPatient returns one patient by id.
func (s *Service) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	return s.store.Get(ctx, id)
}

// ListPatients returns all patients, newest first.
func (s *Service) ListPatients(ctx context.Context) ([]*domain.Patient, error) {
	return s.store.List(ctx)
}

// UpdatePatient replaces the intake text and regenerates the profile when the
// text actually changed. Chat history is preserved.
func (s *Service) UpdatePatient(ctx context.Context, id, info, preferredLanguage string) (*domain.Patient, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	info = strings.TrimSpace(info)
	if info == "" {
		return nil, fmt.Errorf("%w: patient info is required", domain.ErrValidation)
	}
	if s.cfg.MaxInfoLen > 0 && len(info) > s.cfg.MaxInfoLen {
		return nil, fmt.Errorf("%w: patient info exceeds %d characters", domain.ErrValidation, s.cfg.MaxInfoLen)
	}

	if info != p.Info {
		title, htmlDescription, err := s.chat.GenerateProfile(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("generate profile: %w", err)
		}
		p.Info = info
		p.Title = title
		p.HTMLDescription = htmlDescription
	}
	if preferredLanguage != "" {
		p.PreferredLanguage = preferredLanguage
	}
	p.UpdatedAt = s.now()

	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Chat processes one user message: rate limit, analyze, retrieve context,
// complete, and append the user and AI turns to the history.
func (s *Service) Chat(ctx context.Context, id, message string) (*domain.Patient, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if s.cfg.MaxMessageLen > 0 && len(message) > s.cfg.MaxMessageLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, s.cfg.MaxMessageLen)
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Allow(id); err != nil {
		return nil, err
	}

	analysis, err := s.chat.AnalyzeQuery(ctx, message)
	if err != nil {
		s.logger.Warn("query analysis failed, continuing without it",
			zap.String("patient_id", id), zap.Error(err))
		analysis = domain.QueryAnalysis{Language: p.PreferredLanguage}
	}

	var docs []domain.RetrievedDocument
	if s.retriever != nil {
		docs, err = s.retriever.RetrieveSmart(ctx, message, analysis, s.topK)
		if err != nil {
			s.logger.Warn("context retrieval failed, answering without context",
				zap.String("patient_id", id), zap.Error(err))
			docs = nil
		}
	}

	history := p.Chat
	if s.cfg.MaxHistory > 0 && len(history) > s.cfg.MaxHistory {
		history = history[len(history)-s.cfg.MaxHistory:]
	}

	reply, err := s.chat.Complete(ctx, buildSystemPrompt(p, docs), history, message)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	userTS := s.now()
	aiTS := s.now()
	if !aiTS.After(userTS) {
		aiTS = userTS.Add(time.Millisecond)
	}
	p.Chat = append(p.Chat,
		domain.ChatMessage{Role: domain.RoleUser, Content: message, Timestamp: userTS},
		domain.ChatMessage{
			Role:        domain.RoleAI,
			Content:     reply.Content,
			Timestamp:   aiTS,
			Suggestions: reply.Suggestions,
		},
	)
	p.UpdatedAt = aiTS

	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Conversation returns the chat history for one patient.
func (s *Service) Conversation(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Chat, nil
}
