package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Memory is a map-backed store, used for fixtures and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
}

func NewMemory(records ...Record) *Memory {
	m := &Memory{records: map[string]map[string]Record{}}
	for _, r := range records {
		_ = m.Upsert(context.Background(), r)
	}
	return m
}

func (m *Memory) FetchByID(ctx context.Context, collection, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return rec, nil
}

func (m *Memory) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[rec.Collection] == nil {
		m.records[rec.Collection] = map[string]Record{}
	}
	m.records[rec.Collection][rec.ID] = rec
	return nil
}

// Records returns every record, in no particular order.
func (m *Memory) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, byID := range m.records {
		for _, r := range byID {
			out = append(out, r)
		}
	}
	return out
}

// LoadFile reads a fixture file of the form
//
//	{"users": [{"_id": "...", ...}], "scholarships": [...]}
//
// into a Memory store. Documents without a string "_id" are rejected.
func LoadFile(path string) (*Memory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m := NewMemory()
	for collection, items := range doc {
		for i, fields := range items {
			id, ok := fields["_id"].(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("%s: %s[%d] has no string _id", path, collection, i)
			}
			_ = m.Upsert(context.Background(), Record{Collection: collection, ID: id, Fields: fields})
		}
	}
	return m, nil
}

func (m *Memory) Close() error { return nil }
