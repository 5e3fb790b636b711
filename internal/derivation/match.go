package derivation

import (
	"sort"
	"strings"

	"github.com/sjperalta/fintera-invoicing/internal/models"
)

type candidate struct {
	clause      *models.Clause
	specificity int
}

// triggerMatches reports whether every constraint the clause sets holds for
// the event, and how many constraints were set.
func triggerMatches(c *models.Clause, e *models.WorkEvent) (bool, int) {
	specificity := 0

	if c.TriggerUnitType != "" {
		if !strings.EqualFold(strings.TrimSpace(c.TriggerUnitType), strings.TrimSpace(e.UnitType)) {
			return false, 0
		}
		specificity++
	}

	desc := strings.ToLower(e.Description)
	for _, kw := range c.TriggerKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if !strings.Contains(desc, kw) {
			return false, 0
		}
		specificity++
	}

	if c.TriggerExternalRef != "" {
		if !strings.EqualFold(strings.TrimSpace(c.TriggerExternalRef), strings.TrimSpace(e.ExternalRef)) {
			return false, 0
		}
		specificity++
	}

	return true, specificity
}

// candidatesFor returns the clauses matching the event, best first: most
// specific trigger, then latest effective start, then contract order.
func candidatesFor(clauses []models.Clause, e *models.WorkEvent) []candidate {
	var out []candidate
	for i := range clauses {
		c := &clauses[i]
		if !c.Covers(e.Date) {
			continue
		}
		if ok, spec := triggerMatches(c, e); ok {
			out = append(out, candidate{clause: c, specificity: spec})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		if !a.clause.EffectiveFrom.Equal(b.clause.EffectiveFrom) {
			return a.clause.EffectiveFrom.After(b.clause.EffectiveFrom)
		}
		if a.clause.Sequence != b.clause.Sequence {
			return a.clause.Sequence < b.clause.Sequence
		}
		return a.clause.ID < b.clause.ID
	})
	return out
}

// sortEvents orders events by date, then external id, then id so the input
// order never leaks into the output.
func sortEvents(events []models.WorkEvent) []models.WorkEvent {
	sorted := make([]models.WorkEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		da, db := models.DateOnly(a.Date), models.DateOnly(b.Date)
		if !da.Equal(db) {
			return da.Before(db)
		}
		if a.ExternalID != b.ExternalID {
			return a.ExternalID < b.ExternalID
		}
		return a.ID < b.ID
	})
	return sorted
}
