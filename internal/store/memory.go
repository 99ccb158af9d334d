package store

import (
	"context"
	"sync"

	"github.com/signcast/api/internal/model"
)

// MemoryStore keeps jobs in a map for the life of the process
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[job.ID]; ok && cur.Status.IsTerminal() {
		return ErrTerminal
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Unsettled(_ context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Job
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
