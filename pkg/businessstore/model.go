package businessstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/bizsync/registry-sync/pkg/business"
)

// ActionStatusChange is the audit action written when a record status advances.
const ActionStatusChange = "STATUS_CHANGE"

// BusinessDao is a data access object that maps directly to the 'businesses' table in PostgreSQL.
type BusinessDao struct {
	bun.BaseModel      `bun:"table:businesses,alias:b"`
	ID                 int64            `bun:"id,pk,autoincrement"`
	ExternalBusinessID string           `bun:"external_business_id,unique,notnull,type:varchar(64)"`
	Name               string           `bun:"name,notnull,type:varchar(255)"`
	RoadAddress        *string          `bun:"road_address,type:text"`
	LotAddress         *string          `bun:"lot_address,type:text"`
	Phone              *string          `bun:"phone,type:varchar(32)"`
	Latitude           *decimal.Decimal `bun:"latitude,type:numeric(10,7)"`
	Longitude          *decimal.Decimal `bun:"longitude,type:numeric(10,7)"`
	BusinessCode       *string          `bun:"business_code,type:varchar(32)"`
	BusinessName       *string          `bun:"business_name,type:varchar(255)"`
	LargeCode          *string          `bun:"category_large_code,type:varchar(16)"`
	LargeName          *string          `bun:"category_large_name,type:varchar(128)"`
	MediumCode         *string          `bun:"category_medium_code,type:varchar(16)"`
	MediumName         *string          `bun:"category_medium_name,type:varchar(128)"`
	SmallCode          *string          `bun:"category_small_code,type:varchar(16)"`
	SmallName          *string          `bun:"category_small_name,type:varchar(128)"`
	OperatingStatus    string           `bun:"operating_status,notnull,type:varchar(32)"`
	RecordStatus       string           `bun:"record_status,notnull,type:varchar(16)"`
	DataSource         string           `bun:"data_source,notnull,type:varchar(64)"`
	LastSyncedAt       time.Time        `bun:"last_synced_at,notnull"`
	CreatedAt          time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt          time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// AuditLogDao is a data access object that maps directly to the 'business_audit_logs' table in PostgreSQL.
type AuditLogDao struct {
	bun.BaseModel      `bun:"table:business_audit_logs,alias:bal"`
	ID                 uuid.UUID `bun:"id,pk,type:uuid"`
	ExternalBusinessID string    `bun:"external_business_id,notnull,type:varchar(64)"`
	Action             string    `bun:"action,notnull,type:varchar(32)"`
	PreviousStatus     *string   `bun:"previous_status,type:varchar(16)"`
	NewStatus          string    `bun:"new_status,notnull,type:varchar(16)"`
	ChangedBy          string    `bun:"changed_by,notnull,type:varchar(128)"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// AuditEntry is one recorded record-status change.
type AuditEntry struct {
	ID             uuid.UUID
	ExternalID     string
	Action         string
	PreviousStatus business.RecordStatus
	NewStatus      business.RecordStatus
	ChangedBy      string
	CreatedAt      time.Time
}

func toBusinessDao(rec *business.Record) *BusinessDao {
	return &BusinessDao{
		ExternalBusinessID: rec.ExternalID,
		Name:               rec.Name,
		RoadAddress:        rec.RoadAddress,
		LotAddress:         rec.LotAddress,
		Phone:              rec.Phone,
		Latitude:           rec.Latitude,
		Longitude:          rec.Longitude,
		BusinessCode:       rec.BusinessCode,
		BusinessName:       rec.BusinessName,
		LargeCode:          rec.Large.Code,
		LargeName:          rec.Large.Name,
		MediumCode:         rec.Medium.Code,
		MediumName:         rec.Medium.Name,
		SmallCode:          rec.Small.Code,
		SmallName:          rec.Small.Name,
		OperatingStatus:    string(rec.OperatingStatus),
		RecordStatus:       string(rec.RecordStatus),
		DataSource:         rec.DataSource,
		LastSyncedAt:       rec.LastSyncedAt,
	}
}

func toRecord(dao *BusinessDao) *business.Record {
	return &business.Record{
		ExternalID:      dao.ExternalBusinessID,
		Name:            dao.Name,
		RoadAddress:     dao.RoadAddress,
		LotAddress:      dao.LotAddress,
		Phone:           dao.Phone,
		Latitude:        dao.Latitude,
		Longitude:       dao.Longitude,
		BusinessCode:    dao.BusinessCode,
		BusinessName:    dao.BusinessName,
		Large:           business.Category{Code: dao.LargeCode, Name: dao.LargeName},
		Medium:          business.Category{Code: dao.MediumCode, Name: dao.MediumName},
		Small:           business.Category{Code: dao.SmallCode, Name: dao.SmallName},
		OperatingStatus: business.OperatingStatus(dao.OperatingStatus),
		RecordStatus:    business.RecordStatus(dao.RecordStatus),
		DataSource:      dao.DataSource,
		LastSyncedAt:    dao.LastSyncedAt,
	}
}

func toAuditEntry(dao *AuditLogDao) *AuditEntry {
	e := &AuditEntry{
		ID:         dao.ID,
		ExternalID: dao.ExternalBusinessID,
		Action:     dao.Action,
		NewStatus:  business.RecordStatus(dao.NewStatus),
		ChangedBy:  dao.ChangedBy,
		CreatedAt:  dao.CreatedAt,
	}
	if dao.PreviousStatus != nil {
		e.PreviousStatus = business.RecordStatus(*dao.PreviousStatus)
	}
	return e
}
