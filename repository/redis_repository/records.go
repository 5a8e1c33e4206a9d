package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/essaygen/internal/store"
	"github.com/redis/go-redis/v9"
)

// redisRecordRepository keeps each source record as a JSON string under
// "<collection>:<id>".
type redisRecordRepository struct {
	client *redis.Client
}

func recordKey(collection, id string) string { return collection + ":" + id }

func (r *redisRecordRepository) FetchByID(ctx context.Context, collection, id string) (store.Record, error) {
	val, err := r.client.Get(ctx, recordKey(collection, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Record{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
		}
		return store.Record{}, err
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(val), &fields); err != nil {
		return store.Record{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return store.Record{Collection: collection, ID: id, Fields: fields}, nil
}

func (r *redisRecordRepository) Upsert(ctx context.Context, rec store.Record) error {
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, recordKey(rec.Collection, rec.ID), data, 0).Err()
}

func (r *redisRecordRepository) Close() error { return r.client.Close() }

func NewRedisRecordRepository(client *redis.Client) *redisRecordRepository {
	return &redisRecordRepository{
		client: client,
	}
}
