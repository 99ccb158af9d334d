// Package store persists job records. A record may change while processing
// and is frozen once it reaches a terminal status.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/signcast/api/internal/config"
	"github.com/signcast/api/internal/model"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when saving over a ready or error record
	ErrTerminal = errors.New("job already settled")
)

// JobStore is safe for concurrent use
type JobStore interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Save(ctx context.Context, job *model.Job) error
	// Unsettled lists every record that has not reached a terminal status
	Unsettled(ctx context.Context) ([]*model.Job, error)
	Close() error
}

// Open builds the store selected by cfg.Driver. Durable drivers are fronted
// by an in-memory copy.
func Open(cfg *config.StorageConfig, redisClient *redis.Client) (JobStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		durable, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewMirroredStore(durable, NewMemoryStore()), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis job store requires a redis client")
		}
		return NewMirroredStore(NewRedisStore(redisClient, cfg.JobTTL), NewMemoryStore()), nil
	default:
		return nil, fmt.Errorf("unknown job store driver %q", cfg.Driver)
	}
}
