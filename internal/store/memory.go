package store

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/rankme/internal/model"
)

// MemoryStore is a process-local VenueStore for tests and throwaway runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.VenueRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.VenueRecord)}
}

func (s *MemoryStore) Find(_ context.Context, reference string) (model.VenueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[reference]
	if !ok {
		return model.VenueRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, rec model.VenueRecord) error {
	return s.SaveBatch(ctx, []model.VenueRecord{rec})
}

func (s *MemoryStore) SaveBatch(_ context.Context, recs []model.VenueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rec := range recs {
		rec, err := prepare(rec, now)
		if err != nil {
			return err
		}
		if existing, ok := s.records[rec.Reference]; ok {
			existing.FullName = rec.FullName
			s.records[rec.Reference] = existing
			continue
		}
		s.records[rec.Reference] = rec
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }
