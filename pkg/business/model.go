// Package business holds the normalized business registry record and the
// parser that produces it from upstream items.
package business

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperatingStatus is the normalized trading state of a business.
type OperatingStatus string

const (
	StatusPending        OperatingStatus = "pending"
	StatusActive         OperatingStatus = "active"
	StatusInactive       OperatingStatus = "inactive"
	StatusDissolved      OperatingStatus = "dissolved"
	StatusPendingRenewal OperatingStatus = "pending_renewal"
)

// RecordStatus tracks how far a record has been reviewed. It only moves forward.
type RecordStatus string

const (
	RecordNew      RecordStatus = "new"
	RecordSynced   RecordStatus = "synced"
	RecordVerified RecordStatus = "verified"
)

var recordStatusRank = map[RecordStatus]int{
	RecordNew:      0,
	RecordSynced:   1,
	RecordVerified: 2,
}

// Valid reports whether s is a known record status.
func (s RecordStatus) Valid() bool {
	_, ok := recordStatusRank[s]
	return ok
}

// CanAdvanceTo reports whether a record may move from s to next. Records are never downgraded.
func (s RecordStatus) CanAdvanceTo(next RecordStatus) bool {
	from, ok := recordStatusRank[s]
	if !ok {
		return false
	}
	to, ok := recordStatusRank[next]
	return ok && to > from
}

// Category is one level of the industry classification.
type Category struct {
	Code *string
	Name *string
}

// Record is a normalized business registry entry.
type Record struct {
	ExternalID      string `validate:"required,max=64"`
	Name            string `validate:"required,max=255"`
	RoadAddress     *string
	LotAddress      *string
	Phone           *string `validate:"omitempty,max=32"`
	Latitude        *decimal.Decimal
	Longitude       *decimal.Decimal
	BusinessCode    *string
	BusinessName    *string
	Large           Category
	Medium          Category
	Small           Category
	OperatingStatus OperatingStatus `validate:"required"`
	RecordStatus    RecordStatus    `validate:"required"`
	DataSource      string          `validate:"required"`
	LastSyncedAt    time.Time
}
