// Package businessstore persists normalized business records.
package businessstore

import (
	"context"
	"errors"

	"github.com/bizsync/registry-sync/pkg/business"
)

var (
	// ErrNotFound is returned when a record lookup finds no matching row.
	ErrNotFound = errors.New("business not found")
	// ErrStatusDowngrade is returned when a record status change would not move forward.
	ErrStatusDowngrade = errors.New("record status can only advance")
)

// Store defines the interface for business record persistence
type Store interface {
	// UpsertBatch inserts or updates records keyed by external id and returns the number of rows written.
	// An existing row keeps its record status.
	UpsertBatch(ctx context.Context, records []*business.Record) (int, error)
	Exists(ctx context.Context, externalID string) (bool, error)
	// ExistingIDs returns the subset of ids that already have a row.
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	Get(ctx context.Context, externalID string) (*business.Record, error)
	// AdvanceRecordStatus moves a record forward and writes an audit entry in the same transaction.
	// The sync pipeline never calls it; it and AuditLog serve verification jobs that import this package.
	AdvanceRecordStatus(ctx context.Context, externalID string, to business.RecordStatus, changedBy string) error
	AuditLog(ctx context.Context, externalID string) ([]*AuditEntry, error)
}
