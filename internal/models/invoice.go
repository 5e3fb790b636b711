package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Invoice is a derived invoice draft and its lifecycle. Subtotal, tax and
// total are always computed from the lines and never stored.
type Invoice struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	LineageID           string     `gorm:"size:36;not null;index" json:"lineage_id"`
	ContractID          string     `gorm:"size:36;not null;index" json:"contract_id"`
	ContractVersion     int        `gorm:"not null" json:"contract_version"`
	Version             int        `gorm:"not null;default:1" json:"version"`
	SupersedesID        *string    `gorm:"size:36" json:"supersedes_id"`
	Currency            string     `gorm:"size:3;not null" json:"currency"`
	AggregateConfidence float64    `gorm:"not null" json:"aggregate_confidence"`
	Status              string     `gorm:"size:20;not null;index" json:"status"`
	Explainability      string     `gorm:"type:text" json:"explainability"`
	InvoiceDate         time.Time  `gorm:"not null" json:"invoice_date"`
	DueDate             time.Time  `gorm:"not null" json:"due_date"`
	DerivedBy           string     `gorm:"size:64" json:"derived_by"`
	DerivedByType       string     `gorm:"size:20" json:"derived_by_type"`
	ApprovedAt          *time.Time `json:"approved_at"`
	RejectedAt          *time.Time `json:"rejected_at"`
	RejectedBy          *string    `gorm:"size:64" json:"rejected_by"`
	RejectionReason     *string    `gorm:"type:text" json:"rejection_reason"`
	PushAttempts        int        `gorm:"not null;default:0" json:"push_attempts"`
	LastPushAttemptAt   *time.Time `json:"last_push_attempt_at"`
	LastPushError       *string    `gorm:"type:text" json:"last_push_error"`
	ExternalRef         *string    `gorm:"size:128" json:"external_ref"`
	PushedAt            *time.Time `json:"pushed_at"`
	IntegrityHold       bool       `gorm:"not null;default:false;index" json:"integrity_hold"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// Associations
	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID" json:"lines,omitempty"`
}

// TableName specifies the table name for Invoice
func (Invoice) TableName() string {
	return "invoices"
}

// BeforeCreate hook for setting defaults
func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	ensureID(&i.ID)
	if i.LineageID == "" {
		i.LineageID = i.ID
	}
	if i.Status == "" {
		i.Status = InvoiceStatusDraft
	}
	if i.Version == 0 {
		i.Version = 1
	}
	return nil
}

// Invoice status constants
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusException     = "exception"
	InvoiceStatusPendingReview = "pending_review"
	InvoiceStatusApproved      = "approved"
	InvoiceStatusPushed        = "pushed"
	InvoiceStatusRejected      = "rejected"
)

// Line kind constants
const (
	LineKindBillable = "billable"
	LineKindTax      = "tax"
)

// Subtotal is the sum of billable line amounts.
func (i *Invoice) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range i.Lines {
		if l.Kind != LineKindTax {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}

// Tax is the sum of tax line amounts.
func (i *Invoice) Tax() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range i.Lines {
		if l.Kind == LineKindTax {
			sum = sum.Add(l.Amount)
		}
	}
	return sum
}

// Total is the sum of every line amount.
func (i *Invoice) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range i.Lines {
		sum = sum.Add(l.Amount)
	}
	return sum
}

// Line returns the line with the given id.
func (i *Invoice) Line(id string) (*InvoiceLine, bool) {
	for idx := range i.Lines {
		if i.Lines[idx].ID == id {
			return &i.Lines[idx], true
		}
	}
	return nil, false
}

// UnreviewedBy lists line ids not marked reviewed by the given reviewer.
func (i *Invoice) UnreviewedBy(reviewerID string) []string {
	var ids []string
	for _, l := range i.Lines {
		if l.ReviewedBy == nil || *l.ReviewedBy != reviewerID {
			ids = append(ids, l.ID)
		}
	}
	return ids
}

// SourceEventIDs returns the distinct work event ids behind the invoice, in
// first-seen line order.
func (i *Invoice) SourceEventIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range i.Lines {
		for _, id := range l.SourceEventIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// IsTerminal returns true once the invoice can no longer change status
func (i *Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusPushed || i.Status == InvoiceStatusRejected
}

// MayReview returns true if lines can be marked reviewed
func (i *Invoice) MayReview() bool {
	return i.Status == InvoiceStatusException || i.Status == InvoiceStatusPendingReview
}

// MayRederive returns true if a new version can replace this draft
func (i *Invoice) MayRederive() bool {
	return i.Status == InvoiceStatusException || i.Status == InvoiceStatusPendingReview
}

// MayApprove returns true if the invoice is waiting for approval
func (i *Invoice) MayApprove() bool {
	return i.Status == InvoiceStatusPendingReview && !i.IntegrityHold
}

// MayPush returns true if the invoice can be sent to the export gate
func (i *Invoice) MayPush() bool {
	return i.Status == InvoiceStatusApproved && !i.IntegrityHold
}

// InvoiceLine is one derived line. Review flags are persisted per line so
// the approver's line-by-line review survives reloads and is auditable.
type InvoiceLine struct {
	ID                       string                      `gorm:"primaryKey;size:36" json:"id"`
	InvoiceID                string                      `gorm:"size:36;not null;index" json:"invoice_id"`
	Number                   int                         `gorm:"not null" json:"number"`
	Kind                     string                      `gorm:"size:20;not null;default:billable" json:"kind"`
	Description              string                      `gorm:"type:text" json:"description"`
	Quantity                 decimal.Decimal             `gorm:"type:numeric(18,4);not null" json:"quantity"`
	Unit                     string                      `gorm:"size:40" json:"unit"`
	UnitPrice                decimal.Decimal             `gorm:"type:numeric(18,4);not null" json:"unit_price"`
	Amount                   decimal.Decimal             `gorm:"type:numeric(18,4);not null" json:"amount"`
	SourceClauseID           *string                     `gorm:"size:36;index" json:"source_clause_id"`
	SourceEventIDs           datatypes.JSONSlice[string] `json:"source_event_ids"`
	Confidence               float64                     `gorm:"not null" json:"confidence"`
	IsException              bool                        `gorm:"not null;default:false" json:"is_exception"`
	ExceptionKind            string                      `gorm:"size:30" json:"exception_kind,omitempty"`
	RequiresElevatedApproval bool                        `gorm:"not null;default:false" json:"requires_elevated_approval"`
	Explanation              string                      `gorm:"type:text" json:"explanation"`
	ReviewedBy               *string                     `gorm:"size:64" json:"reviewed_by"`
	ReviewedAt               *time.Time                  `json:"reviewed_at"`
}

// TableName specifies the table name for InvoiceLine
func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

// BeforeCreate hook for setting defaults
func (l *InvoiceLine) BeforeCreate(tx *gorm.DB) error {
	ensureID(&l.ID)
	if l.Kind == "" {
		l.Kind = LineKindBillable
	}
	return nil
}

// IsReviewed returns true if any reviewer has marked the line
func (l *InvoiceLine) IsReviewed() bool {
	return l.ReviewedBy != nil
}

// InvoiceResponse is the JSON response format for Invoice
type InvoiceResponse struct {
	Invoice
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

// ToResponse converts Invoice to InvoiceResponse with computed totals
func (i *Invoice) ToResponse() InvoiceResponse {
	return InvoiceResponse{
		Invoice:  *i,
		Subtotal: Money(i.Subtotal()),
		Tax:      Money(i.Tax()),
		Total:    Money(i.Total()),
	}
}
