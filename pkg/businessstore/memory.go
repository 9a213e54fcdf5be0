package businessstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizsync/registry-sync/pkg/business"
)

// MemoryStore keeps records in process memory with the same upsert semantics as the postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]business.Record
	audit   map[string][]*AuditEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]business.Record),
		audit:   make(map[string][]*AuditEntry),
	}
}

func (m *MemoryStore) UpsertBatch(_ context.Context, records []*business.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		next := *rec
		if prev, ok := m.records[rec.ExternalID]; ok {
			next.RecordStatus = prev.RecordStatus
		}
		m.records[rec.ExternalID] = next
	}
	return len(records), nil
}

func (m *MemoryStore) Exists(_ context.Context, externalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.records[externalID]
	return ok, nil
}

func (m *MemoryStore) ExistingIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (m *MemoryStore) Get(_ context.Context, externalID string) (*business.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) AdvanceRecordStatus(
	_ context.Context,
	externalID string,
	to business.RecordStatus,
	changedBy string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[externalID]
	if !ok {
		return ErrNotFound
	}
	if !rec.RecordStatus.CanAdvanceTo(to) {
		return ErrStatusDowngrade
	}

	m.audit[externalID] = append(m.audit[externalID], &AuditEntry{
		ID:             uuid.New(),
		ExternalID:     externalID,
		Action:         ActionStatusChange,
		PreviousStatus: rec.RecordStatus,
		NewStatus:      to,
		ChangedBy:      changedBy,
		CreatedAt:      time.Now(),
	})
	rec.RecordStatus = to
	m.records[externalID] = rec
	return nil
}

func (m *MemoryStore) AuditLog(_ context.Context, externalID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*AuditEntry(nil), m.audit[externalID]...), nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
