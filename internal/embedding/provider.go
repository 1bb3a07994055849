// Package embedding hosts the embedding provider behind a dedicated worker
// goroutine so model calls never block the request path directly. Each call
// is a request/response round-trip keyed by a monotonically increasing id and
// resolved through a pending map.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

type embedRequest struct {
	id   uint64
	text string
}

type embedResponse struct {
	id     uint64
	result domain.EmbeddingResult
	err    error
}

// worker bundles the channels and pending map of one worker incarnation.
// A crashed worker is discarded wholesale and a fresh one is created on the
// next call, so stale responses can never resolve new requests.
type worker struct {
	requests  chan embedRequest
	responses chan embedResponse
	pending   map[uint64]chan embedResponse
}

// Provider implements domain.Embedder on top of a worker goroutine.
// Vectors are normalized to unit length before being returned.
type Provider struct {
	factory func() (domain.Embedder, error)
	dim     int
	logger  *zap.Logger

	mu      sync.Mutex
	nextID  uint64
	w       *worker
	initErr error
}

// NewProvider creates a lazily started worker-backed provider. factory builds
// the inner embedder inside start; its failure is cached and returned to all
// subsequent calls until the worker is recreated.
func NewProvider(factory func() (domain.Embedder, error), dim int, logger *zap.Logger) *Provider {
	return &Provider{factory: factory, dim: dim, logger: logger}
}

// Embed sends the text to the worker and waits for the response or context
// cancellation. The in-flight model call itself is not cancelled.
func (p *Provider) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	ch, err := p.submit(text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return domain.EmbeddingResult{}, resp.err
		}
		vec := domain.Normalize(resp.result.Embedding)
		if p.dim > 0 && len(vec) != p.dim {
			return domain.EmbeddingResult{}, fmt.Errorf(
				"got %d dimensions, store expects %d: %w", len(vec), p.dim, domain.ErrVectorDimMismatch)
		}
		resp.result.Embedding = vec
		return resp.result, nil
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("embed wait: %w", ctx.Err())
	}
}

func (p *Provider) submit(text string) (chan embedResponse, error) {
	p.mu.Lock()

	if p.w == nil {
		if p.initErr != nil {
			err := p.initErr
			p.mu.Unlock()
			return nil, err
		}
		if err := p.start(); err != nil {
			p.initErr = err
			p.mu.Unlock()
			return nil, err
		}
	}

	p.nextID++
	id := p.nextID
	ch := make(chan embedResponse, 1)
	w := p.w
	w.pending[id] = ch
	p.mu.Unlock()

	w.requests <- embedRequest{id: id, text: text}
	return ch, nil
}

// start creates a worker incarnation. Caller holds p.mu.
func (p *Provider) start() error {
	inner, err := p.factory()
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}

	w := &worker{
		requests:  make(chan embedRequest, 64),
		responses: make(chan embedResponse, 64),
		pending:   make(map[uint64]chan embedResponse),
	}
	p.w = w

	go p.runWorker(w, inner)
	go p.dispatch(w)

	return nil
}

// runWorker executes model calls sequentially. A panic closes the response
// channel, which the dispatcher turns into a full pending-map rejection.
func (p *Provider) runWorker(w *worker, inner domain.Embedder) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("embedding worker crashed", zap.Any("panic", r))
		}
		close(w.responses)
	}()

	for req := range w.requests {
		result, err := inner.Embed(context.Background(), req.text)
		w.responses <- embedResponse{id: req.id, result: result, err: err}
	}
}

// dispatch resolves pending requests by id. When the response channel closes
// the worker is gone: every pending request is rejected and the worker slot
// cleared so the next call recreates it.
func (p *Provider) dispatch(w *worker) {
	for resp := range w.responses {
		p.mu.Lock()
		ch, ok := w.pending[resp.id]
		delete(w.pending, resp.id)
		p.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	err := fmt.Errorf("embedding worker stopped: %w", domain.ErrEmbeddingProviderError)
	p.mu.Lock()
	for id, ch := range w.pending {
		delete(w.pending, id)
		ch <- embedResponse{id: id, err: err}
	}
	if p.w == w {
		p.w = nil
	}
	p.mu.Unlock()
}

// Close stops the current worker, rejecting any in-flight requests.
func (p *Provider) Close() {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w != nil {
		close(w.requests)
	}
}
