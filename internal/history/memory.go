package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore guarda o histórico no processo do coordinator.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // ordem de submissão
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (m *MemoryStore) RecordSubmission(_ context.Context, queryID, sql string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[queryID]; exists {
		return nil
	}
	m.records[queryID] = &Record{
		QueryID:     queryID,
		SQL:         sql,
		SubmittedAt: at,
		UpdatedAt:   at,
	}
	m.order = append(m.order, queryID)
	return nil
}

func (m *MemoryStore) RecordTransition(_ context.Context, queryID, state string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[queryID]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	rec.UpdatedAt = at
	rec.Transitions = append(rec.Transitions, Transition{State: state, At: at})
	return nil
}

func (m *MemoryStore) RecordOutcome(_ context.Context, queryID string, rowCount int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[queryID]
	if !ok {
		return ErrNotFound
	}
	rec.RowCount = rowCount
	rec.Error = errMsg
	return nil
}

func (m *MemoryStore) Get(_ context.Context, queryID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[queryID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// ListRecent devolve as queries mais recentes primeiro.
func (m *MemoryStore) ListRecent(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Record, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.records[m.order[i]])
	}
	return out, nil
}
