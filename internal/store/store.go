package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("record not found")

// Record is a source document (a user profile or a scholarship description).
// Its schema belongs to whoever wrote it; only Collection and ID are known here.
type Record struct {
	Collection string
	ID         string
	Fields     map[string]any
}

// String renders the record as compact JSON with sorted keys, including its id.
func (r Record) String() string {
	fields := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if _, ok := fields["_id"]; !ok && r.ID != "" {
		fields["_id"] = r.ID
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%v", r.Fields)
	}
	return string(b)
}

// Store is the Postgres-backed document store.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// FetchByID returns the record stored under collection/id.
func (s *Store) FetchByID(ctx context.Context, collection, id string) (Record, error) {
	var body []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT body FROM source_records WHERE collection=$1 AND id=$2`,
		collection, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("fetch %s/%s: %w", collection, id, err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return Record{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Record{Collection: collection, ID: id, Fields: fields}, nil
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO source_records (collection, id, body)
VALUES ($1, $2, $3)
ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		rec.Collection, rec.ID, body)
	return err
}
