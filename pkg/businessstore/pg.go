package businessstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/bizsync/registry-sync/pkg/business"
)

// upsertColumns are overwritten from the incoming row on conflict. record_status and created_at are kept.
var upsertColumns = []string{
	"name",
	"road_address",
	"lot_address",
	"phone",
	"latitude",
	"longitude",
	"business_code",
	"business_name",
	"category_large_code",
	"category_large_name",
	"category_medium_code",
	"category_medium_name",
	"category_small_code",
	"category_small_name",
	"operating_status",
	"data_source",
	"last_synced_at",
}

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the business store
func NewStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

func (s *pgStore) UpsertBatch(ctx context.Context, records []*business.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	daos := make([]*BusinessDao, len(records))
	for i, rec := range records {
		daos[i] = toBusinessDao(rec)
	}

	q := s.db.NewInsert().
		Model(&daos).
		On("CONFLICT (external_business_id) DO UPDATE")
	for _, col := range upsertColumns {
		q = q.Set(col + " = EXCLUDED." + col)
	}
	q = q.Set("updated_at = current_timestamp")

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert businesses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

func (s *pgStore) Exists(ctx context.Context, externalID string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*BusinessDao)(nil)).
		Where("external_business_id = ?", externalID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check business exists: %w", err)
	}
	return exists, nil
}

func (s *pgStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var rows []string
	err := s.db.NewSelect().
		Model((*BusinessDao)(nil)).
		Column("external_business_id").
		Where("external_business_id IN (?)", bun.In(ids)).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing businesses: %w", err)
	}
	for _, id := range rows {
		found[id] = struct{}{}
	}
	return found, nil
}

func (s *pgStore) Get(ctx context.Context, externalID string) (*business.Record, error) {
	dao := new(BusinessDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("external_business_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return toRecord(dao), nil
}

func (s *pgStore) AdvanceRecordStatus(
	ctx context.Context,
	externalID string,
	to business.RecordStatus,
	changedBy string,
) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrStatusDowngrade, to)
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		dao := new(BusinessDao)
		err := tx.NewSelect().
			Model(dao).
			Column("id", "record_status").
			Where("external_business_id = ?", externalID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock business: %w", err)
		}

		from := business.RecordStatus(dao.RecordStatus)
		if !from.CanAdvanceTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrStatusDowngrade, from, to)
		}

		_, err = tx.NewUpdate().
			Model((*BusinessDao)(nil)).
			Set("record_status = ?", string(to)).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", dao.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update record status: %w", err)
		}

		prev := string(from)
		_, err = tx.NewInsert().
			Model(&AuditLogDao{
				ID:                 uuid.New(),
				ExternalBusinessID: externalID,
				Action:             ActionStatusChange,
				PreviousStatus:     &prev,
				NewStatus:          string(to),
				ChangedBy:          changedBy,
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
}

func (s *pgStore) AuditLog(ctx context.Context, externalID string) ([]*AuditEntry, error) {
	var daos []AuditLogDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("external_business_id = ?", externalID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	entries := make([]*AuditEntry, len(daos))
	for i := range daos {
		entries[i] = toAuditEntry(&daos[i])
	}
	return entries, nil
}
