package routing

import (
	"fmt"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
)

// Routed is one exception to open: the flagged line, why, and who reviews it.
type Routed struct {
	LineNumber int
	LineID     string
	Flag       Flag
	Reviewer   policy.Reviewer
}

// Refs gives the router access to the clauses and events behind the lines
// so flags can carry the clause category and the raw event amount. Both
// maps are optional.
type Refs struct {
	Clauses map[string]*models.Clause
	Events  map[string]*models.WorkEvent
}

// Route applies the routing rules to every line. A line yields at most two
// exceptions: one for its engine flag or low confidence, and one for
// elevated approval.
func Route(lines []models.InvoiceLine, p *policy.Policy, refs Refs) ([]Routed, error) {
	if p == nil {
		p = policy.Default()
	}

	var out []Routed
	for _, l := range lines {
		if l.Kind == models.LineKindTax {
			continue
		}

		var primary Flag
		switch {
		case l.IsException && l.ExceptionKind == models.ExceptionKindDataMissing:
			primary = DataMissing{EventIDs: l.SourceEventIDs, RawAmount: refs.rawAmount(l)}
		case l.IsException && l.ExceptionKind == models.ExceptionKindManualReview:
			primary = AmbiguousMatch{ChosenClauseID: deref(l.SourceClauseID)}
		case l.IsException:
			return nil, fmt.Errorf("line %d: unknown engine exception kind %q", l.Number, l.ExceptionKind)
		case l.Confidence < p.ConfidenceThreshold:
			primary = LowConfidence{Confidence: l.Confidence, Threshold: p.ConfidenceThreshold}
		}
		if primary != nil {
			out = append(out, Routed{LineNumber: l.Number, LineID: l.ID, Flag: primary, Reviewer: p.Reviewers.Controller})
		}

		if l.RequiresElevatedApproval {
			out = append(out, Routed{
				LineNumber: l.Number,
				LineID:     l.ID,
				Flag:       ElevatedApproval{ClauseID: deref(l.SourceClauseID), Category: refs.category(l)},
				Reviewer:   p.Reviewers.CFO,
			})
		}
	}

	for _, r := range out {
		if err := r.Flag.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.LineNumber, err)
		}
	}
	return out, nil
}

// RequiredRoles lists the roles allowed to resolve an exception of kind.
// CFO-required exceptions can only be cleared by the CFO.
func RequiredRoles(kind string) []string {
	if kind == models.ExceptionKindCFORequired {
		return []string{models.RoleCFO}
	}
	return []string{models.RoleController, models.RoleCFO, models.RoleAdmin}
}

func (r Refs) rawAmount(l models.InvoiceLine) *string {
	for _, id := range l.SourceEventIDs {
		if e, ok := r.Events[id]; ok && e.Amount != nil {
			s := models.Money(*e.Amount)
			return &s
		}
	}
	return nil
}

func (r Refs) category(l models.InvoiceLine) string {
	if l.SourceClauseID == nil {
		return ""
	}
	if c, ok := r.Clauses[*l.SourceClauseID]; ok {
		return c.Category
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
