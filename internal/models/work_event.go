package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WorkEvent is one unit of billable activity. Rows are append-only:
// re-ingesting the same external event creates a new row.
type WorkEvent struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	ContractID  string           `gorm:"size:36;not null;index" json:"contract_id"`
	ExternalID  string           `gorm:"size:100;index" json:"event_id"`
	Date        time.Time        `gorm:"not null;index" json:"date"`
	Description string           `gorm:"type:text" json:"description"`
	Units       decimal.Decimal  `gorm:"type:numeric(18,4);not null" json:"units"`
	UnitType    string           `gorm:"size:40;not null" json:"unit_type"`
	Amount      *decimal.Decimal `gorm:"type:numeric(18,4)" json:"amount"`
	ExternalRef string           `gorm:"size:100" json:"external_ref"`
	BatchID     string           `gorm:"size:36;index" json:"batch_id"`
	IngestedBy  string           `gorm:"size:64" json:"ingested_by"`
	IngestedAt  time.Time        `gorm:"not null" json:"ingested_at"`
}

// TableName specifies the table name for WorkEvent
func (WorkEvent) TableName() string {
	return "work_events"
}

// BeforeCreate hook for setting defaults
func (e *WorkEvent) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	if e.IngestedAt.IsZero() {
		e.IngestedAt = time.Now().UTC()
	}
	return nil
}

// Label is how an event is named in explanations.
func (e *WorkEvent) Label() string {
	if e.ExternalID != "" {
		return e.ExternalID
	}
	return e.ID
}
