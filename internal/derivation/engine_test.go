package derivation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func testContract() *models.Contract {
	return &models.Contract{
		ID:               "contract-1",
		Reference:        "MSA-001",
		Currency:         "USD",
		PaymentTermsDays: 30,
		Version:          1,
	}
}

func hourlyClause() models.Clause {
	return models.Clause{
		ID:                   "clause-hourly",
		ExternalID:           "c1",
		Sequence:             1,
		Basis:                models.BasisTimeAndMaterials,
		Description:          "Consulting",
		TriggerUnitType:      "hour",
		UnitPrice:            dec("200"),
		EffectiveFrom:        jan1,
		ExtractionConfidence: 0.95,
	}
}

func hoursEvent(id string, d int, units string) models.WorkEvent {
	return models.WorkEvent{
		ID:          id,
		ContractID:  "contract-1",
		ExternalID:  id,
		Date:        day(d),
		Description: "Backend development",
		Units:       dec(units),
		UnitType:    "hour",
	}
}

func derive(t *testing.T, contract *models.Contract, clauses []models.Clause, events ...models.WorkEvent) *Result {
	t.Helper()
	res, err := Derive(Input{
		Contract:    contract,
		Clauses:     clauses,
		Events:      events,
		Policy:      policy.Default(),
		InvoiceDate: day(31),
	})
	require.NoError(t, err)
	return res
}

func TestDerive_SingleTimeAndMaterialsClause(t *testing.T) {
	res := derive(t, testContract(), []models.Clause{hourlyClause()}, hoursEvent("E1", 4, "10"))

	require.Len(t, res.Lines, 1)
	line := res.Lines[0]
	assert.Equal(t, "2000.00", line.Amount.StringFixed(2))
	assert.GreaterOrEqual(t, line.Confidence, 0.95)
	assert.False(t, line.IsException)
	assert.False(t, line.RequiresElevatedApproval)
	assert.Equal(t, "clause-hourly", *line.SourceClauseID)
	assert.Equal(t, []string{"E1"}, []string(line.SourceEventIDs))
	assert.Equal(t, 1, line.Number)
	assert.Equal(t, 0.95, res.AggregateConfidence)
	assert.Equal(t, day(31).AddDate(0, 0, 30), res.DueDate)
}

func TestDerive_UnmatchedEventIsDataMissing(t *testing.T) {
	ev := hoursEvent("E9", 5, "3")
	ev.UnitType = "expense"
	ev.Amount = decPtr("120.00")

	res := derive(t, testContract(), []models.Clause{hourlyClause()}, ev)

	require.Len(t, res.Lines, 1)
	line := res.Lines[0]
	assert.True(t, line.IsException)
	assert.Equal(t, models.ExceptionKindDataMissing, line.ExceptionKind)
	assert.True(t, line.Amount.IsZero())
	assert.Equal(t, 0.0, line.Confidence)
	assert.Nil(t, line.SourceClauseID)
	assert.Contains(t, line.Explanation, "raw amount 120.00")
	assert.Equal(t, 0.0, res.AggregateConfidence)
}

func TestDerive_LowExtractionConfidenceCarriesThrough(t *testing.T) {
	clause := hourlyClause()
	clause.ExtractionConfidence = 0.72

	res := derive(t, testContract(), []models.Clause{clause}, hoursEvent("E1", 4, "10"))

	assert.Equal(t, 0.72, res.Lines[0].Confidence)
	assert.False(t, res.Lines[0].IsException)
	assert.Equal(t, 0.72, res.AggregateConfidence)
}

func TestDerive_AmbiguousMatchPicksMostSpecific(t *testing.T) {
	generic := hourlyClause()

	specific := hourlyClause()
	specific.ID = "clause-backend"
	specific.ExternalID = "c2"
	specific.Sequence = 2
	specific.TriggerKeywords = []string{"backend"}
	specific.UnitPrice = dec("250")

	res := derive(t, testContract(), []models.Clause{generic, specific}, hoursEvent("E1", 4, "2"))

	line := res.Lines[0]
	assert.Equal(t, "clause-backend", *line.SourceClauseID)
	assert.Equal(t, "500.00", line.Amount.StringFixed(2))
	assert.True(t, line.IsException)
	assert.Equal(t, models.ExceptionKindManualReview, line.ExceptionKind)
	assert.InDelta(t, 0.85, line.Confidence, 1e-9, "ambiguity costs 0.10")
	assert.Contains(t, line.Explanation, "Ambiguous: 2 clauses matched (c2, c1)")
}

func TestDerive_AmbiguousTieBreaksOnLatestEffectiveStart(t *testing.T) {
	old := hourlyClause()

	newer := hourlyClause()
	newer.ID = "clause-2024q1"
	newer.ExternalID = "c3"
	newer.Sequence = 3
	newer.EffectiveFrom = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	newer.UnitPrice = dec("210")

	res := derive(t, testContract(), []models.Clause{old, newer}, hoursEvent("E1", 4, "1"))
	assert.Equal(t, "clause-2024q1", *res.Lines[0].SourceClauseID)
}

func TestDerive_EffectiveRangeExcludesEvent(t *testing.T) {
	clause := hourlyClause()
	end := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	clause.EffectiveTo = &end

	res := derive(t, testContract(), []models.Clause{clause}, hoursEvent("E1", 4, "1"))
	assert.Equal(t, models.ExceptionKindDataMissing, res.Lines[0].ExceptionKind)
}

func TestDerive_FixedMilestoneIgnoresQuantity(t *testing.T) {
	milestone := models.Clause{
		ID:                   "clause-ms",
		ExternalID:           "m1",
		Basis:                models.BasisFixedMilestone,
		Description:          "Go-live milestone",
		TriggerUnitType:      "milestone",
		FixedAmount:          dec("15000"),
		EffectiveFrom:        jan1,
		ExtractionConfidence: 0.9,
	}
	ev := hoursEvent("M1", 10, "3")
	ev.UnitType = "milestone"

	res := derive(t, testContract(), []models.Clause{milestone}, ev)
	line := res.Lines[0]
	assert.Equal(t, "15000.00", line.Amount.StringFixed(2))
	assert.True(t, line.Quantity.Equal(dec("1")))
	assert.Contains(t, line.Explanation, "fixed amount 15000.00")
}

func TestDerive_RoundingPenalty(t *testing.T) {
	clause := hourlyClause()
	clause.UnitPrice = dec("33.333")

	res := derive(t, testContract(), []models.Clause{clause}, hoursEvent("E1", 4, "1"))
	line := res.Lines[0]
	assert.Equal(t, "33.33", line.Amount.StringFixed(2))
	assert.InDelta(t, 0.90, line.Confidence, 1e-9)
	assert.Contains(t, line.Explanation, "amount rounded to cents (-0.05)")
}

func TestDerive_RawAmountCorroboration(t *testing.T) {
	match := hoursEvent("E1", 4, "10")
	match.Amount = decPtr("2000")

	off := hoursEvent("E2", 5, "10")
	off.Amount = decPtr("2500")

	res := derive(t, testContract(), []models.Clause{hourlyClause()}, match, off)
	assert.InDelta(t, 1.0, res.Lines[0].Confidence, 1e-9)
	assert.InDelta(t, 0.80, res.Lines[1].Confidence, 1e-9)
	assert.InDelta(t, 0.80, res.AggregateConfidence, 1e-9)
}

func TestDerive_SensitiveCategoryRequiresElevatedApproval(t *testing.T) {
	clause := hourlyClause()
	clause.Category = "revenue_recognition"

	flagged := hourlyClause()
	flagged.ID = "clause-flagged"
	flagged.TriggerUnitType = "day"
	flagged.RequiresElevatedApproval = true

	dayEvent := hoursEvent("E2", 6, "1")
	dayEvent.UnitType = "day"

	res := derive(t, testContract(), []models.Clause{clause, flagged}, hoursEvent("E1", 4, "1"), dayEvent)
	assert.True(t, res.Lines[0].RequiresElevatedApproval)
	assert.True(t, res.Lines[1].RequiresElevatedApproval)
	assert.False(t, res.Lines[0].IsException, "elevated approval is independent of confidence")
}

func TestDerive_TaxLineKeepsTotalEqualToSumOfLines(t *testing.T) {
	contract := testContract()
	contract.TaxRate = dec("0.15")

	res := derive(t, contract, []models.Clause{hourlyClause()}, hoursEvent("E1", 4, "10"), hoursEvent("E2", 5, "0.5"))

	require.Len(t, res.Lines, 3)
	tax := res.Lines[2]
	assert.Equal(t, models.LineKindTax, tax.Kind)
	assert.Equal(t, "315.00", tax.Amount.StringFixed(2))
	assert.Equal(t, []string{"E1", "E2"}, []string(tax.SourceEventIDs))
	assert.Equal(t, 3, tax.Number)

	sum := decimal.Zero
	for _, l := range res.Lines {
		sum = sum.Add(l.Amount)
	}
	assert.True(t, res.Total().Equal(sum))
	assert.Equal(t, "2100.00", res.Subtotal().StringFixed(2))
	assert.Contains(t, res.Explainability, "total 2415.00")
}

func TestDerive_IsDeterministicRegardlessOfInputOrder(t *testing.T) {
	clauses := []models.Clause{hourlyClause()}
	a := hoursEvent("E1", 4, "10")
	b := hoursEvent("E2", 4, "1.333")
	c := hoursEvent("E3", 2, "7")
	c.UnitType = "expense"

	first := derive(t, testContract(), clauses, a, b, c)
	second := derive(t, testContract(), clauses, c, b, a)
	third := derive(t, testContract(), clauses, a, b, c)

	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
	assert.Equal(t, "E3", first.Lines[0].SourceEventIDs[0])
}

func TestDerive_NoClausesFails(t *testing.T) {
	_, err := Derive(Input{Contract: testContract(), Events: []models.WorkEvent{hoursEvent("E1", 4, "1")}})

	var nbt *NoBillingTermsError
	require.True(t, errors.As(err, &nbt))
	assert.Equal(t, "contract-1", nbt.ContractID)
}

func TestDerive_NoEventsFails(t *testing.T) {
	_, err := Derive(Input{Contract: testContract(), Clauses: []models.Clause{hourlyClause()}})
	assert.ErrorIs(t, err, ErrNoWorkEvents)
}
