package store

import (
	"context"
	"errors"
	"log"

	"github.com/signcast/api/internal/model"
)

// MirroredStore writes every transition to a durable store and then to
// memory. Reads hit memory first and fall back to the durable copy, which
// is how records written before a restart become visible again.
type MirroredStore struct {
	durable JobStore
	memory  *MemoryStore
}

func NewMirroredStore(durable JobStore, memory *MemoryStore) *MirroredStore {
	return &MirroredStore{durable: durable, memory: memory}
}

func (s *MirroredStore) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.memory.Get(ctx, id)
	if err == nil {
		return job, nil
	}

	job, err = s.durable.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.memory.Save(ctx, job); err != nil && !errors.Is(err, ErrTerminal) {
		log.Printf("[store] backfill %s failed: %v", id, err)
	}
	return job, nil
}

func (s *MirroredStore) Save(ctx context.Context, job *model.Job) error {
	if err := s.durable.Save(ctx, job); err != nil {
		return err
	}
	return s.memory.Save(ctx, job)
}

// Unsettled reads the durable copy, which also holds records from before a restart
func (s *MirroredStore) Unsettled(ctx context.Context) ([]*model.Job, error) {
	return s.durable.Unsettled(ctx)
}

func (s *MirroredStore) Close() error {
	return s.durable.Close()
}
