package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Exception kind constants
const (
	ExceptionKindLowConfidence = "low_confidence"
	ExceptionKindCFORequired   = "cfo_required"
	ExceptionKindDataMissing   = "data_missing"
	ExceptionKindManualReview  = "manual_review"
)

// Exception status constants
const (
	ExceptionStatusPending  = "pending"
	ExceptionStatusResolved = "resolved"
)

// Exception is a flagged invoice line waiting for a human decision
type Exception struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	InvoiceID        string         `gorm:"size:36;not null;index" json:"invoice_id"`
	LineID           string         `gorm:"size:36;not null;index" json:"line_id"`
	Kind             string         `gorm:"size:30;not null" json:"kind"`
	Reason           string         `gorm:"type:text;not null" json:"reason"`
	Detail           datatypes.JSON `json:"detail"`
	Status           string         `gorm:"size:20;not null;index" json:"status"`
	AssignedReviewer string         `gorm:"size:255" json:"assigned_reviewer"`
	AssignedRole     string         `gorm:"size:20" json:"assigned_role"`
	Resolution       *string        `gorm:"type:text" json:"resolution"`
	ResolvedBy       *string        `gorm:"size:64" json:"resolved_by"`
	ResolvedAt       *time.Time     `json:"resolved_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// Associations
	Comments []ExceptionComment `gorm:"foreignKey:ExceptionID" json:"comments,omitempty"`
}

// TableName specifies the table name for Exception
func (Exception) TableName() string {
	return "exceptions"
}

// BeforeCreate hook for setting defaults
func (e *Exception) BeforeCreate(tx *gorm.DB) error {
	ensureID(&e.ID)
	if e.Status == "" {
		e.Status = ExceptionStatusPending
	}
	return nil
}

// IsPending returns true while the exception blocks approval
func (e *Exception) IsPending() bool {
	return e.Status == ExceptionStatusPending
}

// ExceptionComment is one message in an exception's discussion thread
type ExceptionComment struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	ExceptionID string    `gorm:"size:36;not null;index" json:"exception_id"`
	AuthorID    string    `gorm:"size:64;not null" json:"author_id"`
	AuthorName  string    `gorm:"size:255" json:"author_name"`
	Body        string    `gorm:"type:text;not null" json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for ExceptionComment
func (ExceptionComment) TableName() string {
	return "exception_comments"
}

// BeforeCreate hook for setting defaults
func (c *ExceptionComment) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
