package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/essaygen/config"
	"github.com/mohammad-safakhou/essaygen/internal/store"
	"github.com/mohammad-safakhou/essaygen/repository/redis_repository"
)

// RecordRepository defines the interface for source record storage
type RecordRepository interface {
	FetchByID(ctx context.Context, collection, id string) (store.Record, error)
	Upsert(ctx context.Context, rec store.Record) error
	Close() error
}

type RepoType string

const (
	RepoTypePostgres RepoType = "postgres"
	RepoTypeRedis    RepoType = "redis"
	RepoTypeFile     RepoType = "file"
)

// Writable reports whether records upserted through the driver outlive the process.
func (t RepoType) Writable() bool { return t == RepoTypePostgres || t == RepoTypeRedis }

// NewRecordRepository opens the store selected by cfg.Driver.
func NewRecordRepository(ctx context.Context, cfg config.StorageConfig) (RecordRepository, error) {
	switch RepoType(cfg.Driver) {
	case RepoTypePostgres:
		pctx, cancel := withTimeout(ctx, cfg.Postgres.Timeout)
		defer cancel()
		st, err := store.NewWithDSN(pctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return st, nil
	case RepoTypeRedis:
		r := cfg.Redis
		rctx, cancel := withTimeout(ctx, r.Timeout)
		defer cancel()
		c, err := redis_repository.Conn(rctx, r.Host, r.Port, r.Password, r.DB, r.Timeout)
		if err != nil {
			return nil, err
		}
		return redis_repository.NewRedisRecordRepository(c), nil
	case RepoTypeFile:
		m, err := store.LoadFile(cfg.File.Path)
		if err != nil {
			return nil, fmt.Errorf("fixture file: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", cfg.Driver)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
