package businessstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bizsync/registry-sync/pkg/business"
	"github.com/bizsync/registry-sync/pkg/pgutil"
	mghelper "github.com/bizsync/registry-sync/pkg/pgutil/migrations"
)

func setupStore(t *testing.T) (context.Context, Store) {
	t.Helper()

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &BusinessDao{}, &AuditLogDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return ctx, NewStore(db)
}

func strPtr(s string) *string { return &s }

func testRecord(id, name string) *business.Record {
	lat := decimal.RequireFromString("37.5006430")
	lon := decimal.RequireFromString("127.0365300")
	return &business.Record{
		ExternalID:      id,
		Name:            name,
		RoadAddress:     strPtr("서울특별시 강남구 테헤란로 123"),
		Phone:           strPtr("02-123-4567"),
		Latitude:        &lat,
		Longitude:       &lon,
		Large:           business.Category{Code: strPtr("I2"), Name: strPtr("음식")},
		OperatingStatus: business.StatusActive,
		RecordStatus:    business.RecordNew,
		DataSource:      "public-data-portal",
		LastSyncedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPGStore_UpsertBatchIsIdempotent(t *testing.T) {
	ctx, store := setupStore(t)

	batch := []*business.Record{testRecord("B-1", "첫번째 가게"), testRecord("B-2", "두번째 가게")}
	n, err := store.UpsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}

	batch[0].Name = "이름 변경"
	batch[0].Phone = nil
	if _, err = store.UpsertBatch(ctx, batch); err != nil {
		t.Fatalf("second UpsertBatch() failed: %v", err)
	}

	existing, err := store.ExistingIDs(ctx, []string{"B-1", "B-2", "B-3"})
	if err != nil {
		t.Fatalf("ExistingIDs() failed: %v", err)
	}
	if len(existing) != 2 {
		t.Fatalf("expected 2 existing ids, got %v", existing)
	}
	if _, ok := existing["B-3"]; ok {
		t.Fatal("B-3 must not exist")
	}

	got, err := store.Get(ctx, "B-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "이름 변경" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}
	if got.Phone != nil {
		t.Fatalf("expected phone cleared, got %q", *got.Phone)
	}
	if got.Latitude == nil || !got.Latitude.Equal(decimal.RequireFromString("37.500643")) {
		t.Fatalf("unexpected latitude: %v", got.Latitude)
	}
}

func TestPGStore_UpsertKeepsRecordStatus(t *testing.T) {
	ctx, store := setupStore(t)

	if _, err := store.UpsertBatch(ctx, []*business.Record{testRecord("B-1", "가게")}); err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if err := store.AdvanceRecordStatus(ctx, "B-1", business.RecordVerified, "admin"); err != nil {
		t.Fatalf("AdvanceRecordStatus() failed: %v", err)
	}

	if _, err := store.UpsertBatch(ctx, []*business.Record{testRecord("B-1", "가게")}); err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}

	got, err := store.Get(ctx, "B-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.RecordStatus != business.RecordVerified {
		t.Fatalf("expected verified to survive upsert, got %s", got.RecordStatus)
	}
}

func TestPGStore_AdvanceRecordStatus(t *testing.T) {
	ctx, store := setupStore(t)

	if err := store.AdvanceRecordStatus(ctx, "missing", business.RecordSynced, "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.UpsertBatch(ctx, []*business.Record{testRecord("B-1", "가게")}); err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	if err := store.AdvanceRecordStatus(ctx, "B-1", business.RecordSynced, "sync"); err != nil {
		t.Fatalf("AdvanceRecordStatus() failed: %v", err)
	}
	if err := store.AdvanceRecordStatus(ctx, "B-1", business.RecordNew, "sync"); !errors.Is(err, ErrStatusDowngrade) {
		t.Fatalf("expected ErrStatusDowngrade, got %v", err)
	}

	entries, err := store.AuditLog(ctx, "B-1")
	if err != nil {
		t.Fatalf("AuditLog() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.PreviousStatus != business.RecordNew || e.NewStatus != business.RecordSynced || e.ChangedBy != "sync" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
}

func TestPGStore_Exists(t *testing.T) {
	ctx, store := setupStore(t)

	exists, err := store.Exists(ctx, "B-1")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Fatal("expected B-1 to be absent")
	}

	if _, err = store.UpsertBatch(ctx, []*business.Record{testRecord("B-1", "가게")}); err != nil {
		t.Fatalf("UpsertBatch() failed: %v", err)
	}
	exists, err = store.Exists(ctx, "B-1")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Fatal("expected B-1 to exist")
	}
}
