// Package patient holds per-patient chat state. The store interface keeps
// the conversation service decoupled from storage lifetime; the only
// implementation is in-memory, so state dies with the process.
package patient

import (
	"context"
	"sort"
	"sync"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// Store is the patient persistence contract.
type Store interface {
	Get(ctx context.Context, id string) (*domain.Patient, error)
	Put(ctx context.Context, p *domain.Patient) error
	List(ctx context.Context) ([]*domain.Patient, error)
}

// MemoryStore is a process-lifetime Store backed by a map.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string]*domain.Patient
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[string]*domain.Patient)}
}

// Get returns a deep copy of the patient, or ErrPatientNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, domain.ErrPatientNotFound
	}
	return p.Clone(), nil
}

// Put stores a deep copy of the patient keyed by id.
func (s *MemoryStore) Put(_ context.Context, p *domain.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patients[p.ID] = p.Clone()
	return nil
}

// List returns copies of all patients, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
