package models

import (
	"time"

	"gorm.io/gorm"
)

// AuditEntry is one link of a hash chain. Entries are grouped by lineage
// (a contract, or an invoice together with all of its versions) and
// numbered from 1 within the lineage. Rows are never updated or deleted.
type AuditEntry struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	LineageID       string    `gorm:"size:36;not null;uniqueIndex:idx_audit_lineage_sequence,priority:1" json:"lineage_id"`
	Sequence        int64     `gorm:"not null;uniqueIndex:idx_audit_lineage_sequence,priority:2" json:"sequence"`
	EntityType      string    `gorm:"size:30;not null" json:"entity_type"`
	EntityID        string    `gorm:"size:36;not null;index" json:"entity_id"`
	Action          string    `gorm:"size:40;not null" json:"action"`
	ActorID         string    `gorm:"size:64;not null" json:"actor_id"`
	ActorType       string    `gorm:"size:20;not null" json:"actor_type"`
	Timestamp       time.Time `gorm:"not null;index" json:"timestamp"`
	Payload         string    `gorm:"type:text;not null" json:"payload"`
	PayloadHash     string    `gorm:"size:80;not null" json:"payload_hash"`
	PreviousHash    string    `gorm:"size:80;not null" json:"previous_hash"`
	EntryHash       string    `gorm:"size:80;not null" json:"entry_hash"`
	Confidence      *float64  `json:"confidence,omitempty"`
	CorrectsEntryID *string   `gorm:"size:36" json:"corrects_entry_id,omitempty"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// BeforeCreate hook for setting defaults
func (e *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// Entity type constants
const (
	EntityContract  = "contract"
	EntityWorkEvent = "work_event"
	EntityInvoice   = "invoice"
	EntityLine      = "invoice_line"
	EntityException = "exception"
	EntityApproval  = "approval"
	EntityAudit     = "audit"
)

// Audit action constants
const (
	ActionContractIngest   = "contract_ingest"
	ActionContractRevise   = "contract_revise"
	ActionWorkEventIngest  = "work_event_ingest"
	ActionDerive           = "derive"
	ActionRederive         = "rederive"
	ActionExceptionOpen    = "exception_open"
	ActionExceptionResolve = "exception_resolve"
	ActionExceptionComment = "exception_comment"
	ActionExceptionAssign  = "exception_assign"
	ActionResolveAll       = "resolve_all"
	ActionLineReview       = "line_review"
	ActionApprove          = "approve"
	ActionReject           = "reject"
	ActionPush             = "push"
	ActionPushFailed       = "push_failed"
	ActionExport           = "export"
	ActionCorrection       = "correction"
)
