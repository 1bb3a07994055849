package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
	conversationuc "github.com/diewoo/doctor-capybara-sub000/internal/usecase/conversation"
	healthuc "github.com/diewoo/doctor-capybara-sub000/internal/usecase/health"
)

// errorCode is the machine-readable code in error responses.
type errorCode string

const (
	codeBadRequest        errorCode = "bad_request"
	codeValidationFailed  errorCode = "validation_failed"
	codePatientNotFound   errorCode = "patient_not_found"
	codeRateLimited       errorCode = "rate_limited"
	codeChatProviderError errorCode = "chat_provider_error"
	codeInternalError     errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the patient chat API over chi.
type Server struct {
	conversation  *conversationuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(conversation *conversationuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		conversation: conversation,
		health:       health,
		logger:       logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrPatientNotFound, http.StatusNotFound, codePatientNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrChatProviderError, http.StatusInternalServerError, codeChatProviderError),
	}
	return s
}

// Routes mounts all API routes on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/gemini/patient", func(r chi.Router) {
		r.Post("/", s.CreatePatient)
		r.Get("/", s.ListPatients)
		r.Get("/{id}", s.GetPatient)
		r.Put("/{id}", s.UpdatePatient)
		r.Post("/{id}/chat", s.Chat)
		r.Get("/{id}/conversation", s.GetConversation)
	})
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type patientRequest struct {
	Info              string `json:"info"`
	PreferredLanguage string `json:"preferredLanguage"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// CreatePatient handles POST /api/gemini/patient.
func (s *Server) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, err := s.conversation.CreatePatient(r.Context(), req.Info, req.PreferredLanguage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ListPatients handles GET /api/gemini/patient.
func (s *Server) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.conversation.ListPatients(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if patients == nil {
		patients = []*domain.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// GetPatient handles GET /api/gemini/patient/{id}.
func (s *Server) GetPatient(w http.ResponseWriter, r *http.Request) {
	p, err := s.conversation.GetPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePatient handles PUT /api/gemini/patient/{id}.
func (s *Server) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, err := s.conversation.UpdatePatient(r.Context(), chi.URLParam(r, "id"), req.Info, req.PreferredLanguage)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Chat handles POST /api/gemini/patient/{id}/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	p, err := s.conversation.Chat(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetConversation handles GET /api/gemini/patient/{id}/conversation.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	chatHistory, err := s.conversation.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if chatHistory == nil {
		chatHistory = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chatHistory})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrPatientNotFound,
		domain.ErrRateLimited,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err.Error()
		}
	}
	if errors.Is(err, domain.ErrChatProviderError) || errors.Is(err, domain.ErrEmbeddingProviderError) {
		return "upstream model error"
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
