package domain

import "errors"

var (
	// ErrPatientNotFound signals an unknown patient id.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrValidation signals invalid input (length or shape).
	ErrValidation = errors.New("validation failed")
	// ErrRateLimited signals the per-patient message limit was hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrVectorDimMismatch signals an embedding dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrChatProviderError signals a chat model provider failure.
	ErrChatProviderError = errors.New("chat provider error")
)
