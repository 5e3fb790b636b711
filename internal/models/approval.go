package models

import (
	"time"

	"gorm.io/gorm"
)

// Approval records who approved an invoice and binds the approval to the
// exact invoice content through ContentHash.
type Approval struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	InvoiceID          string    `gorm:"size:36;not null;uniqueIndex" json:"invoice_id"`
	ApproverID         string    `gorm:"size:64;not null" json:"approver_id"`
	ApproverName       string    `gorm:"size:255;not null" json:"approver_name"`
	ApproverEmail      string    `gorm:"size:255;not null" json:"approver_email"`
	Note               string    `gorm:"type:text" json:"note"`
	ApprovedAt         time.Time `gorm:"not null" json:"approved_at"`
	ContentHash        string    `gorm:"size:80;not null" json:"content_hash"`
	ConfidenceSnapshot float64   `gorm:"not null" json:"confidence_snapshot"`
	CreatedAt          time.Time `json:"created_at"`
}

// TableName specifies the table name for Approval
func (Approval) TableName() string {
	return "approvals"
}

// BeforeCreate hook for setting defaults
func (a *Approval) BeforeCreate(tx *gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
