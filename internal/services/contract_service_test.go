package services

import (
	"context"
	"testing"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractIngest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	terms := 45
	retainer := ClauseInput{
		ExternalID:           "c2",
		Basis:                "Recurring_Retainer",
		Trigger:              TriggerInput{UnitType: "month", Keywords: []string{" retainer ", ""}},
		UnitPrice:            dec("5000"),
		EffectiveFrom:        "2024-01-01T00:00:00Z",
		EffectiveTo:          "2024-12-31",
		ExtractionConfidence: 0.9,
	}

	c, err := env.svc.Contract.Ingest(ctx, IngestContractRequest{
		Reference:        " MSA-7 ",
		CustomerName:     "Globex",
		Currency:         "eur",
		TaxRate:          dec("0.21"),
		PaymentTermsDays: &terms,
		Clauses:          []ClauseInput{hourlyClause(0.95), retainer},
	}, ingestor)
	require.NoError(t, err)

	assert.Equal(t, "MSA-7", c.Reference)
	assert.Equal(t, "EUR", c.Currency)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, 45, c.PaymentTermsDays)

	stored, err := env.svc.Contract.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored.Clauses, 2)
	assert.Equal(t, models.BasisRecurringRetainer, stored.Clauses[1].Basis)
	assert.Equal(t, []string{"retainer"}, []string(stored.Clauses[1].TriggerKeywords))
	require.NotNil(t, stored.Clauses[1].EffectiveTo)

	actions := env.actions(t, c.ID)
	assert.Equal(t, []string{models.ActionContractIngest}, actions)
}

func TestContractIngest_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	negative := -1
	bad := hourlyClause(1.5)
	bad.Basis = "barter"
	bad.EffectiveTo = "2023-01-01"
	milestone := ClauseInput{Basis: models.BasisFixedMilestone, EffectiveFrom: "2024-01-01"}

	_, err := env.svc.Contract.Ingest(ctx, IngestContractRequest{
		Currency:         "dollars",
		TaxRate:          dec("1"),
		PaymentTermsDays: &negative,
		Clauses:          []ClauseInput{bad, milestone},
	}, ingestor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	for _, field := range []string{
		"reference", "customer_name", "currency", "tax_rate", "payment_terms_days",
		"clauses[0].basis", "clauses[0].extraction_confidence", "clauses[0].effective_to",
		"clauses[1].fixed_amount",
	} {
		assert.Contains(t, verr.Fields, field)
	}

	_, err = env.svc.Contract.Ingest(ctx, IngestContractRequest{Reference: "x", CustomerName: "y", Currency: "USD"}, controller)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestContractIngest_RejectsValuesTheStoreWouldRound(t *testing.T) {
	env := newTestEnv(t)
	precise := hourlyClause(0.95)
	precise.UnitPrice = dec("199.99995")
	milestone := ClauseInput{
		Basis:                models.BasisFixedMilestone,
		FixedAmount:          dec("100000000000000"),
		EffectiveFrom:        "2024-01-01",
		ExtractionConfidence: 0.9,
	}

	_, err := env.svc.Contract.Ingest(context.Background(), IngestContractRequest{
		Reference:    "MSA-9",
		CustomerName: "Initech",
		Currency:     "USD",
		TaxRate:      dec("0.0712345"),
		Clauses:      []ClauseInput{precise, milestone},
	}, ingestor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "clauses[0].unit_price")
	assert.Contains(t, verr.Fields, "clauses[1].fixed_amount")
	assert.Contains(t, verr.Fields, "tax_rate")
	assert.NotContains(t, verr.Fields, "clauses[0].fixed_amount")
}

func TestReviseClauses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.contract(t, hourlyClause(0.8))

	_, err := env.svc.Contract.ReviseClauses(ctx, c.ID, ReviseClausesRequest{Clauses: []ClauseInput{hourlyClause(0.9)}}, ingestor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "reason")

	revised, err := env.svc.Contract.ReviseClauses(ctx, c.ID, ReviseClausesRequest{
		Reason:  "amendment 1 raises the hourly rate",
		Clauses: []ClauseInput{func() ClauseInput { in := hourlyClause(0.9); in.UnitPrice = dec("250"); return in }()},
	}, ingestor)
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)

	current, err := env.svc.Contract.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, current.Clauses, 1)
	assert.True(t, current.Clauses[0].UnitPrice.Equal(dec("250")))

	history, err := env.svc.Contract.ClauseHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	inv := env.derive(t, c.ID, env.events(t, c.ID, hours("E1", "2024-03-04", "2")))
	assert.Equal(t, 2, inv.ContractVersion)
	assert.Equal(t, "500.00", models.Money(inv.Total()))

	assert.Equal(t, 1, countAction(env.actions(t, c.ID), models.ActionContractRevise))

	_, err = env.svc.Contract.ReviseClauses(ctx, "missing", ReviseClausesRequest{Reason: "x"}, ingestor)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.Format("2006-01-02"))

	d, err = parseDate("2024-02-29T23:30:00-05:00")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", d.Format("2006-01-02"))

	_, err = parseDate("29/02/2024")
	assert.Error(t, err)
	_, err = parseDate("")
	assert.Error(t, err)
}
