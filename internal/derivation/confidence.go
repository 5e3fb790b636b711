package derivation

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
)

var (
	one  = decimal.NewFromInt(1)
	zero = decimal.Zero
)

type confidenceInput struct {
	extraction float64
	raw        *decimal.Decimal
	computed   decimal.Decimal
	ambiguous  bool
	rounded    bool
}

// score computes a line confidence in [0,1], rounded to four places, and
// the notes explaining each adjustment. Adjustments apply in a fixed order:
// raw-amount corroboration, ambiguity penalty, rounding penalty.
func score(in confidenceInput, p *policy.Policy) (float64, []string) {
	c := decimal.NewFromFloat(in.extraction)
	var notes []string

	if in.raw != nil {
		raw := in.raw.Round(2)
		switch {
		case raw.Equal(in.computed):
			bonus := decimal.NewFromFloat(p.Corroboration.Bonus)
			c = decimal.Min(c.Add(bonus), one)
			notes = append(notes, fmt.Sprintf("raw amount %s corroborates (+%s)", raw.StringFixed(2), bonus.StringFixed(2)))
		case exceedsTolerance(raw, in.computed, p.Corroboration.Tolerance):
			floor := decimal.NewFromFloat(p.Corroboration.Floor)
			if c.GreaterThan(floor) {
				penalty := decimal.NewFromFloat(p.Corroboration.Penalty)
				c = decimal.Max(c.Sub(penalty), floor)
				notes = append(notes, fmt.Sprintf("raw amount %s differs from computed (-%s)", raw.StringFixed(2), penalty.StringFixed(2)))
			} else {
				notes = append(notes, fmt.Sprintf("raw amount %s differs from computed", raw.StringFixed(2)))
			}
		}
	}

	if in.ambiguous {
		penalty := decimal.NewFromFloat(p.AmbiguityPenalty)
		c = c.Sub(penalty)
		notes = append(notes, fmt.Sprintf("ambiguous clause match (-%s)", penalty.StringFixed(2)))
	}

	if in.rounded {
		penalty := decimal.NewFromFloat(p.RoundingPenalty)
		c = c.Sub(penalty)
		notes = append(notes, fmt.Sprintf("amount rounded to cents (-%s)", penalty.StringFixed(2)))
	}

	c = decimal.Max(decimal.Min(c, one), zero)
	return c.Round(4).InexactFloat64(), notes
}

// exceedsTolerance reports whether raw differs from computed by more than
// the relative tolerance.
func exceedsTolerance(raw, computed decimal.Decimal, tolerance float64) bool {
	diff := raw.Sub(computed).Abs()
	if computed.IsZero() {
		return !diff.IsZero()
	}
	return diff.Div(computed.Abs()).GreaterThan(decimal.NewFromFloat(tolerance))
}

// minConfidence is the aggregate rule: the weakest line caps the invoice.
func minConfidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
