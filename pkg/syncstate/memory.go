package syncstate

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps states in process memory. It backs tests and database-less development runs.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, source string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[source]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) Ensure(_ context.Context, source string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[source]
	if !ok {
		st = State{DataSource: source, Status: StatusIdle, UpdatedAt: time.Now()}
		m.states[source] = st
	}
	return &st, nil
}

func (m *MemoryStore) Acquire(_ context.Context, source string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[source]
	if !ok {
		return false, ErrNotFound
	}
	if st.Status == StatusRunning {
		stale := !staleBefore.IsZero() && st.StartedAt != nil && st.StartedAt.Before(staleBefore)
		if !stale {
			return false, nil
		}
	}
	st.Status = StatusRunning
	st.StartedAt = &now
	st.ErrorMessage = nil
	st.UpdatedAt = now
	m.states[source] = st
	return true, nil
}

func (m *MemoryStore) Update(_ context.Context, source string, from []Status, p Patch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[source]
	if !ok || !slices.Contains(from, st.Status) {
		return false, nil
	}
	if p.Owner != nil && (st.StartedAt == nil || !st.StartedAt.Equal(*p.Owner)) {
		return false, nil
	}

	st.Status = p.Status
	st.UpdatedAt = p.At
	if p.LastSyncedAt != nil {
		st.LastSyncedAt = p.LastSyncedAt
	}
	if p.LastBusinessID != nil {
		st.LastBusinessID = p.LastBusinessID
	}
	if p.StartedAt != nil {
		st.StartedAt = p.StartedAt
	}
	if p.ClearError {
		st.ErrorMessage = nil
	}
	if p.ErrorMessage != nil {
		st.ErrorMessage = p.ErrorMessage
	}
	st.SyncCount += p.AddSyncCount
	st.TotalSynced += p.AddSynced
	st.NewRecordsCount += p.AddNew

	m.states[source] = st
	return true, nil
}
