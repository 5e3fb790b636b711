package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contract is a customer agreement whose clauses drive invoice derivation.
// Clause sets are versioned; a revision never edits an existing clause.
type Contract struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	Reference        string          `gorm:"size:100;not null;index" json:"reference"`
	CustomerName     string          `gorm:"not null" json:"customer_name"`
	Currency         string          `gorm:"size:3;not null" json:"currency"`
	TaxRate          decimal.Decimal `gorm:"type:numeric(9,6);not null;default:0" json:"tax_rate"`
	PaymentTermsDays int             `gorm:"not null;default:30" json:"payment_terms_days"`
	Version          int             `gorm:"not null;default:1" json:"version"`
	CreatedBy        string          `gorm:"size:64" json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	// Associations
	Clauses []Clause `gorm:"foreignKey:ContractID" json:"clauses,omitempty"`
}

// TableName specifies the table name for Contract
func (Contract) TableName() string {
	return "contracts"
}

// BeforeCreate hook for setting defaults
func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	if c.Version == 0 {
		c.Version = 1
	}
	if c.PaymentTermsDays == 0 {
		c.PaymentTermsDays = 30
	}
	c.Currency = strings.ToUpper(c.Currency)
	return nil
}

// Billing basis constants
const (
	BasisTimeAndMaterials  = "time_and_materials"
	BasisFixedMilestone    = "fixed_milestone"
	BasisRecurringRetainer = "recurring_retainer"
)

// ValidBasis reports whether b is a known billing basis.
func ValidBasis(b string) bool {
	switch b {
	case BasisTimeAndMaterials, BasisFixedMilestone, BasisRecurringRetainer:
		return true
	}
	return false
}

// Clause is one extracted billing term. Clauses are never deleted; a newer
// contract version supersedes them.
type Clause struct {
	ID                       string                      `gorm:"primaryKey;size:36" json:"id"`
	ContractID               string                      `gorm:"size:36;not null;index:idx_clauses_contract_version" json:"contract_id"`
	ContractVersion          int                         `gorm:"not null;index:idx_clauses_contract_version" json:"contract_version"`
	Sequence                 int                         `gorm:"not null" json:"sequence"`
	ExternalID               string                      `gorm:"size:100" json:"external_id"`
	Basis                    string                      `gorm:"size:30;not null" json:"basis"`
	Category                 string                      `gorm:"size:60" json:"category"`
	Description              string                      `gorm:"type:text" json:"description"`
	TriggerUnitType          string                      `gorm:"size:40" json:"trigger_unit_type"`
	TriggerKeywords          datatypes.JSONSlice[string] `json:"trigger_keywords"`
	TriggerExternalRef       string                      `gorm:"size:100" json:"trigger_external_ref"`
	UnitPrice                decimal.Decimal             `gorm:"type:numeric(18,4);not null;default:0" json:"unit_price"`
	FixedAmount              decimal.Decimal             `gorm:"type:numeric(18,4);not null;default:0" json:"fixed_amount"`
	EffectiveFrom            time.Time                   `gorm:"not null" json:"effective_from"`
	EffectiveTo              *time.Time                  `json:"effective_to"`
	ExtractionConfidence     float64                     `gorm:"not null" json:"extraction_confidence"`
	RequiresElevatedApproval bool                        `gorm:"default:false" json:"requires_elevated_approval"`
	SupersededAt             *time.Time                  `json:"superseded_at"`
	CreatedAt                time.Time                   `json:"created_at"`
}

// TableName specifies the table name for Clause
func (Clause) TableName() string {
	return "clauses"
}

// BeforeCreate hook for setting defaults
func (c *Clause) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// Label is how a clause is named in explanations: its external id when the
// parser supplied one, otherwise the internal id.
func (c *Clause) Label() string {
	if c.ExternalID != "" {
		return c.ExternalID
	}
	return c.ID
}

// Covers reports whether day falls inside the clause's inclusive effective range.
func (c *Clause) Covers(day time.Time) bool {
	d := DateOnly(day)
	if d.Before(DateOnly(c.EffectiveFrom)) {
		return false
	}
	if c.EffectiveTo != nil && d.After(DateOnly(*c.EffectiveTo)) {
		return false
	}
	return true
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
