// Package derivation turns a contract's clauses and a set of work events into
// invoice lines. Derive is a pure function: it performs no I/O, reads no
// clock and uses no randomness, so the same inputs always produce the same
// lines, confidences and explanation strings.
package derivation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
)

// ErrNoWorkEvents is returned when derivation is asked to run on nothing.
var ErrNoWorkEvents = errors.New("no work events to derive from")

// NoBillingTermsError means the contract has no clauses to bill against.
type NoBillingTermsError struct {
	ContractID string
	Version    int
}

func (e *NoBillingTermsError) Error() string {
	return fmt.Sprintf("contract %s version %d has no billing clauses", e.ContractID, e.Version)
}

// Input is everything a derivation depends on.
type Input struct {
	Contract    *models.Contract
	Clauses     []models.Clause
	Events      []models.WorkEvent
	Policy      *policy.Policy
	InvoiceDate time.Time
}

// Result is a derived invoice body. Lines carry no ids; the caller assigns
// them when persisting.
type Result struct {
	Lines               []models.InvoiceLine
	AggregateConfidence float64
	Explainability      string
	InvoiceDate         time.Time
	DueDate             time.Time
}

// Subtotal is the sum of billable line amounts.
func (r *Result) Subtotal() decimal.Decimal {
	inv := models.Invoice{Lines: r.Lines}
	return inv.Subtotal()
}

// Total is the sum of all line amounts.
func (r *Result) Total() decimal.Decimal {
	inv := models.Invoice{Lines: r.Lines}
	return inv.Total()
}

type stats struct {
	unmatched int
	ambiguous int
	elevated  int
	clauses   map[string]bool
}

// Derive computes one line per work event, plus a tax line when the
// contract carries a tax rate.
func Derive(in Input) (*Result, error) {
	if in.Contract == nil {
		return nil, errors.New("derivation requires a contract")
	}
	if len(in.Clauses) == 0 {
		return nil, &NoBillingTermsError{ContractID: in.Contract.ID, Version: in.Contract.Version}
	}
	if len(in.Events) == 0 {
		return nil, ErrNoWorkEvents
	}
	p := in.Policy
	if p == nil {
		p = policy.Default()
	}

	st := stats{clauses: make(map[string]bool)}
	events := sortEvents(in.Events)
	lines := make([]models.InvoiceLine, 0, len(events)+1)
	eventIDs := make([]string, 0, len(events))

	for i := range events {
		e := &events[i]
		eventIDs = append(eventIDs, e.ID)
		line := deriveLine(in.Contract, in.Clauses, e, p, &st)
		line.Number = len(lines) + 1
		lines = append(lines, line)
	}

	if in.Contract.TaxRate.IsPositive() {
		lines = append(lines, taxLine(in.Contract, lines, eventIDs))
	}

	confidences := make([]float64, len(lines))
	for i, l := range lines {
		confidences[i] = l.Confidence
	}

	invoiceDate := models.DateOnly(in.InvoiceDate)
	res := &Result{
		Lines:               lines,
		AggregateConfidence: minConfidence(confidences),
		InvoiceDate:         invoiceDate,
		DueDate:             invoiceDate.AddDate(0, 0, in.Contract.PaymentTermsDays),
	}
	res.Explainability = summarize(in.Contract, res, len(events), &st)
	return res, nil
}

func deriveLine(contract *models.Contract, clauses []models.Clause, e *models.WorkEvent, p *policy.Policy, st *stats) models.InvoiceLine {
	candidates := candidatesFor(clauses, e)
	if len(candidates) == 0 {
		st.unmatched++
		return unmatchedLine(contract, e)
	}

	chosen := candidates[0].clause
	ambiguous := len(candidates) > 1
	st.clauses[chosen.ID] = true

	quantity := e.Units
	unitPrice := chosen.UnitPrice
	var exact decimal.Decimal
	if chosen.Basis == models.BasisFixedMilestone {
		quantity = one
		unitPrice = chosen.FixedAmount
		exact = chosen.FixedAmount
	} else {
		exact = quantity.Mul(unitPrice)
	}
	amount := exact.Round(2)
	rounded := !amount.Equal(exact)

	confidence, notes := score(confidenceInput{
		extraction: chosen.ExtractionConfidence,
		raw:        e.Amount,
		computed:   amount,
		ambiguous:  ambiguous,
		rounded:    rounded,
	}, p)

	elevated := chosen.RequiresElevatedApproval || p.IsSensitive(chosen.Category)
	if elevated {
		st.elevated++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Event %s on %s (%s %s) matched clause %s [%s, specificity %d]",
		e.Label(), dateString(e.Date), e.Units.String(), e.UnitType, chosen.Label(), chosen.Basis, candidates[0].specificity)
	if chosen.Basis == models.BasisFixedMilestone {
		fmt.Fprintf(&b, ": fixed amount %s", amount.StringFixed(2))
	} else {
		fmt.Fprintf(&b, ": %s x %s = %s", quantity.String(), unitPrice.StringFixed(2), amount.StringFixed(2))
	}
	if ambiguous {
		labels := make([]string, len(candidates))
		for i, c := range candidates {
			labels[i] = c.clause.Label()
		}
		fmt.Fprintf(&b, ". Ambiguous: %d clauses matched (%s); chose %s by specificity, then latest effective date",
			len(candidates), strings.Join(labels, ", "), chosen.Label())
	}
	fmt.Fprintf(&b, ". Confidence %s from extraction %s",
		formatConfidence(confidence), formatConfidence(chosen.ExtractionConfidence))
	if len(notes) > 0 {
		fmt.Fprintf(&b, "; %s", strings.Join(notes, "; "))
	}
	if elevated {
		fmt.Fprintf(&b, ". Category %q requires elevated approval", chosen.Category)
	}
	b.WriteString(".")

	clauseID := chosen.ID
	line := models.InvoiceLine{
		Kind:                     models.LineKindBillable,
		Description:              lineDescription(chosen, e),
		Quantity:                 quantity,
		Unit:                     e.UnitType,
		UnitPrice:                unitPrice,
		Amount:                   amount,
		SourceClauseID:           &clauseID,
		SourceEventIDs:           []string{e.ID},
		Confidence:               confidence,
		RequiresElevatedApproval: elevated,
		Explanation:              b.String(),
	}
	if ambiguous {
		st.ambiguous++
		line.IsException = true
		line.ExceptionKind = models.ExceptionKindManualReview
	}
	return line
}

func unmatchedLine(contract *models.Contract, e *models.WorkEvent) models.InvoiceLine {
	raw := "none"
	if e.Amount != nil {
		raw = e.Amount.StringFixed(2)
	}
	explanation := fmt.Sprintf(
		"No clause of contract %s v%d matches event %s on %s (%s %s, ref %q); raw amount %s. Line amount left at 0.00 pending data.",
		contract.Reference, contract.Version, e.Label(), dateString(e.Date), e.Units.String(), e.UnitType, e.ExternalRef, raw)

	return models.InvoiceLine{
		Kind:           models.LineKindBillable,
		Description:    "Unmatched: " + e.Description,
		Quantity:       e.Units,
		Unit:           e.UnitType,
		UnitPrice:      zero,
		Amount:         zero,
		SourceEventIDs: []string{e.ID},
		Confidence:     0,
		IsException:    true,
		ExceptionKind:  models.ExceptionKindDataMissing,
		Explanation:    explanation,
	}
}

func taxLine(contract *models.Contract, lines []models.InvoiceLine, eventIDs []string) models.InvoiceLine {
	subtotal := zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount)
	}
	rate := contract.TaxRate
	amount := subtotal.Mul(rate).Round(2)
	pct := rate.Mul(decimal.NewFromInt(100))

	return models.InvoiceLine{
		Number:         len(lines) + 1,
		Kind:           models.LineKindTax,
		Description:    fmt.Sprintf("Tax %s%%", pct.StringFixed(2)),
		Quantity:       subtotal,
		Unit:           contract.Currency,
		UnitPrice:      rate,
		Amount:         amount,
		SourceEventIDs: eventIDs,
		Confidence:     1,
		Explanation: fmt.Sprintf("Tax at rate %s on subtotal %s = %s.",
			rate.String(), subtotal.StringFixed(2), amount.StringFixed(2)),
	}
}

func lineDescription(c *models.Clause, e *models.WorkEvent) string {
	label := strings.TrimSpace(c.Description)
	if label == "" {
		label = strings.ReplaceAll(c.Basis, "_", " ")
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		return label + ": " + d
	}
	return label
}

func summarize(contract *models.Contract, res *Result, events int, st *stats) string {
	clauseIDs := make([]string, 0, len(st.clauses))
	for id := range st.clauses {
		clauseIDs = append(clauseIDs, id)
	}
	sort.Strings(clauseIDs)

	inv := models.Invoice{Lines: res.Lines}
	weakest := 0
	for _, l := range res.Lines {
		if l.Confidence == res.AggregateConfidence {
			weakest = l.Number
			break
		}
	}

	return fmt.Sprintf(
		"Contract %s v%d (%s): %d work events, %d clauses applied, %d unmatched, %d ambiguous, %d requiring elevated approval. "+
			"Subtotal %s, tax %s, total %s. Aggregate confidence %s (line %d).",
		contract.Reference, contract.Version, contract.Currency, events, len(clauseIDs), st.unmatched, st.ambiguous, st.elevated,
		inv.Subtotal().StringFixed(2), inv.Tax().StringFixed(2), inv.Total().StringFixed(2),
		formatConfidence(res.AggregateConfidence), weakest)
}

func dateString(t time.Time) string {
	return models.DateOnly(t).Format("2006-01-02")
}

func formatConfidence(c float64) string {
	return decimal.NewFromFloat(c).String()
}
