// Package routing classifies derived invoice lines against policy and
// decides which reviewer each resulting exception goes to.
//
// A flag is a closed set of variants. Each variant carries the fields its
// kind requires and validates them, and the same JSON envelope is stored on
// the exception row and in the audit payload.
package routing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sjperalta/fintera-invoicing/internal/models"
)

// Flag is implemented only by the variants in this package.
type Flag interface {
	Kind() string
	Reason() string
	Validate() error
	sealed()
}

// LowConfidence: the line's confidence is under the policy threshold.
type LowConfidence struct {
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

func (LowConfidence) Kind() string { return models.ExceptionKindLowConfidence }
func (f LowConfidence) Reason() string {
	return fmt.Sprintf("confidence %.4g is below threshold %.4g", f.Confidence, f.Threshold)
}
func (f LowConfidence) Validate() error {
	if f.Threshold <= 0 || f.Threshold > 1 {
		return fmt.Errorf("low_confidence: threshold %v out of range", f.Threshold)
	}
	if f.Confidence < 0 || f.Confidence >= f.Threshold {
		return fmt.Errorf("low_confidence: confidence %v is not below threshold %v", f.Confidence, f.Threshold)
	}
	return nil
}
func (LowConfidence) sealed() {}

// ElevatedApproval: the line touches a policy-sensitive clause.
type ElevatedApproval struct {
	ClauseID string `json:"clause_id"`
	Category string `json:"category,omitempty"`
}

func (ElevatedApproval) Kind() string { return models.ExceptionKindCFORequired }
func (f ElevatedApproval) Reason() string {
	if f.Category != "" {
		return fmt.Sprintf("clause category %q requires CFO approval", f.Category)
	}
	return "clause is marked as requiring CFO approval"
}
func (f ElevatedApproval) Validate() error {
	if f.ClauseID == "" {
		return errors.New("cfo_required: clause id is required")
	}
	return nil
}
func (ElevatedApproval) sealed() {}

// DataMissing: no clause matched the line's work events.
type DataMissing struct {
	EventIDs  []string `json:"event_ids"`
	RawAmount *string  `json:"raw_amount,omitempty"`
}

func (DataMissing) Kind() string { return models.ExceptionKindDataMissing }
func (f DataMissing) Reason() string {
	return fmt.Sprintf("no billing clause matches %d work event(s)", len(f.EventIDs))
}
func (f DataMissing) Validate() error {
	if len(f.EventIDs) == 0 {
		return errors.New("data_missing: at least one event id is required")
	}
	return nil
}
func (DataMissing) sealed() {}

// AmbiguousMatch: several clauses matched and one was picked by tie-break.
type AmbiguousMatch struct {
	ChosenClauseID string `json:"chosen_clause_id"`
}

func (AmbiguousMatch) Kind() string { return models.ExceptionKindManualReview }
func (f AmbiguousMatch) Reason() string {
	return "several clauses matched; the chosen clause needs manual review"
}
func (f AmbiguousMatch) Validate() error {
	if f.ChosenClauseID == "" {
		return errors.New("manual_review: chosen clause id is required")
	}
	return nil
}
func (AmbiguousMatch) sealed() {}

// Envelope is the stored form of a flag.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode validates a flag and wraps it in its envelope.
func Encode(f Flag) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: f.Kind(), Data: data})
}

// Decode restores a flag from its envelope.
func Decode(raw []byte) (Flag, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode flag envelope: %w", err)
	}

	var f Flag
	var err error
	switch env.Kind {
	case models.ExceptionKindLowConfidence:
		var v LowConfidence
		err = json.Unmarshal(env.Data, &v)
		f = v
	case models.ExceptionKindCFORequired:
		var v ElevatedApproval
		err = json.Unmarshal(env.Data, &v)
		f = v
	case models.ExceptionKindDataMissing:
		var v DataMissing
		err = json.Unmarshal(env.Data, &v)
		f = v
	case models.ExceptionKindManualReview:
		var v AmbiguousMatch
		err = json.Unmarshal(env.Data, &v)
		f = v
	default:
		return nil, fmt.Errorf("unknown flag kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s flag: %w", env.Kind, err)
	}
	return f, f.Validate()
}
