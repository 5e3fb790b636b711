package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sjperalta/fintera-invoicing/internal/derivation"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/statemachine"
	"gorm.io/gorm"
)

// Common service errors
var (
	ErrNotFound               = errors.New("record not found")
	ErrForbidden              = errors.New("actor is not allowed to perform this action")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInactiveAccount        = errors.New("account is inactive")
	ErrConcurrentModification = errors.New("record was modified concurrently, reload and retry")
)

// InvalidTransitionError is returned when an invoice is asked to move
// somewhere its state machine does not allow.
type InvalidTransitionError = statemachine.InvalidTransitionError

// NoBillingTermsError is returned when a contract has no clauses to derive from.
type NoBillingTermsError = derivation.NoBillingTermsError

// RowError points at one invalid row of an ingestion batch (1-based).
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects malformed input before anything is written.
type ValidationError struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	LineIDs []string          `json:"line_ids,omitempty"`
	Rows    []RowError        `json:"rows,omitempty"`
}

func (e *ValidationError) Error() string {
	parts := []string{e.Message}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
		}
	}
	if len(e.LineIDs) > 0 {
		parts = append(parts, "lines: "+strings.Join(e.LineIDs, ", "))
	}
	if len(e.Rows) > 0 {
		parts = append(parts, fmt.Sprintf("%d invalid rows", len(e.Rows)))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) field(name, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[name]; !ok {
		e.Fields[name] = msg
	}
}

func (e *ValidationError) row(row int, field, msg string) {
	e.Rows = append(e.Rows, RowError{Row: row, Field: field, Message: msg})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0 && len(e.LineIDs) == 0 && len(e.Rows) == 0
}

// PushError is a failed or timed out Export Gate call. The invoice stays
// approved and can be pushed again.
type PushError struct {
	InvoiceID string
	Attempt   int
	Timeout   bool
	Err       error
}

func (e *PushError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("push of invoice %s timed out (attempt %d)", e.InvoiceID, e.Attempt)
	}
	return fmt.Sprintf("push of invoice %s failed (attempt %d): %v", e.InvoiceID, e.Attempt, e.Err)
}

func (e *PushError) Unwrap() error {
	return e.Err
}

// IntegrityError means an audit chain no longer verifies. Approval and push
// are halted for the lineage until someone investigates.
type IntegrityError struct {
	LineageID    string
	Verification ledger.Verification
}

func (e *IntegrityError) Error() string {
	at := int64(0)
	if e.Verification.BrokenAt != nil {
		at = *e.Verification.BrokenAt
	}
	if at == 0 {
		return fmt.Sprintf("audit lineage %s is on integrity hold", e.LineageID)
	}
	return fmt.Sprintf("audit chain %s broken at entry %d: %s", e.LineageID, at, e.Verification.Reason)
}

// translate maps repository errors onto the service taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", what, ErrConcurrentModification)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
