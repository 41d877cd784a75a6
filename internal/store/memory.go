package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

type memoryRecord struct {
	storedID   int64
	prediction domain.Prediction
}

// MemoryStore is an in-process Repository. Writers hold the lock
// exclusively, readers share it.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
	nextID  int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) Save(_ context.Context, p domain.Prediction) (int64, error) {
	if p.PredictionID == "" {
		return 0, fmt.Errorf("save prediction: empty prediction id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[p.PredictionID]; ok {
		r.prediction = p
		return r.storedID, nil
	}
	s.nextID++
	s.records[p.PredictionID] = &memoryRecord{storedID: s.nextID, prediction: p}
	return s.nextID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return domain.Prediction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.prediction, nil
}

func (s *MemoryStore) LatestByBasin(_ context.Context, basin string) (domain.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *memoryRecord
	for _, r := range s.records {
		if !strings.EqualFold(r.prediction.Location.Basin, basin) {
			continue
		}
		if latest == nil || newer(r, latest) {
			latest = r
		}
	}
	if latest == nil {
		return domain.Prediction{}, fmt.Errorf("%w for basin %s", ErrNotFound, basin)
	}
	return latest.prediction, nil
}

// newer orders by inference timestamp, then by insertion.
func newer(a, b *memoryRecord) bool {
	ta, tb := a.prediction.InferenceTimestamp, b.prediction.InferenceTimestamp
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.storedID > b.storedID
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Prediction, error) {
	s.mu.RLock()
	records := make([]memoryRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, *r)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].storedID < records[j].storedID })
	out := make([]domain.Prediction, len(records))
	for i, r := range records {
		out[i] = r.prediction
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
