package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// SyncStateDao is a data access object that maps directly to the 'sync_states' table in PostgreSQL.
type SyncStateDao struct {
	bun.BaseModel   `bun:"table:sync_states,alias:ss"`
	DataSource      string     `bun:"data_source,pk,type:varchar(64)"`
	Status          string     `bun:"status,notnull,type:varchar(16)"`
	LastSyncedAt    *time.Time `bun:"last_synced_at"`
	LastBusinessID  *string    `bun:"last_business_id,type:varchar(64)"`
	SyncCount       int64      `bun:"sync_count,notnull,default:0"`
	TotalSynced     int64      `bun:"total_synced,notnull,default:0"`
	NewRecordsCount int64      `bun:"new_records_count,notnull,default:0"`
	ErrorMessage    *string    `bun:"error_message,type:text"`
	StartedAt       *time.Time `bun:"started_at"`
	CreatedAt       time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toState(dao *SyncStateDao) *State {
	return &State{
		DataSource:      dao.DataSource,
		Status:          Status(dao.Status),
		LastSyncedAt:    dao.LastSyncedAt,
		LastBusinessID:  dao.LastBusinessID,
		SyncCount:       dao.SyncCount,
		TotalSynced:     dao.TotalSynced,
		NewRecordsCount: dao.NewRecordsCount,
		ErrorMessage:    dao.ErrorMessage,
		StartedAt:       dao.StartedAt,
		UpdatedAt:       dao.UpdatedAt,
	}
}

type pgStore struct {
	db bun.IDB
}

// NewStore creates a new postgres implementation of the sync state store
func NewStore(db bun.IDB) Store {
	return &pgStore{db: db}
}

func (s *pgStore) Get(ctx context.Context, source string) (*State, error) {
	dao := new(SyncStateDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("data_source = ?", source).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return toState(dao), nil
}

func (s *pgStore) Ensure(ctx context.Context, source string) (*State, error) {
	_, err := s.db.NewInsert().
		Model(&SyncStateDao{DataSource: source, Status: string(StatusIdle)}).
		On("CONFLICT (data_source) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync state: %w", err)
	}
	return s.Get(ctx, source)
}

func (s *pgStore) Acquire(ctx context.Context, source string, now, staleBefore time.Time) (bool, error) {
	q := s.db.NewUpdate().
		Model((*SyncStateDao)(nil)).
		Set("status = ?", string(StatusRunning)).
		Set("started_at = ?", now).
		Set("error_message = NULL").
		Set("updated_at = ?", now).
		Where("data_source = ?", source)

	if staleBefore.IsZero() {
		q = q.Where("status <> ?", string(StatusRunning))
	} else {
		q = q.WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("status <> ?", string(StatusRunning)).
				WhereOr("started_at < ?", staleBefore)
		})
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

func (s *pgStore) Update(ctx context.Context, source string, from []Status, p Patch) (bool, error) {
	fromStr := make([]string, len(from))
	for i, st := range from {
		fromStr[i] = string(st)
	}

	q := s.db.NewUpdate().
		Model((*SyncStateDao)(nil)).
		Set("status = ?", string(p.Status)).
		Set("updated_at = ?", p.At)

	if p.LastSyncedAt != nil {
		q = q.Set("last_synced_at = ?", *p.LastSyncedAt)
	}
	if p.LastBusinessID != nil {
		q = q.Set("last_business_id = ?", *p.LastBusinessID)
	}
	if p.StartedAt != nil {
		q = q.Set("started_at = ?", *p.StartedAt)
	}
	switch {
	case p.ErrorMessage != nil:
		q = q.Set("error_message = ?", *p.ErrorMessage)
	case p.ClearError:
		q = q.Set("error_message = NULL")
	}
	if p.AddSyncCount != 0 {
		q = q.Set("sync_count = sync_count + ?", p.AddSyncCount)
	}
	if p.AddSynced != 0 {
		q = q.Set("total_synced = total_synced + ?", p.AddSynced)
	}
	if p.AddNew != 0 {
		q = q.Set("new_records_count = new_records_count + ?", p.AddNew)
	}

	q = q.Where("data_source = ?", source).
		Where("status IN (?)", bun.In(fromStr))
	if p.Owner != nil {
		q = q.Where("started_at = ?", *p.Owner)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update sync state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
