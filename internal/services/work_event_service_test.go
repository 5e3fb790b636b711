package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkEventIngest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.contract(t, hourlyClause(0.95))

	res, err := env.svc.WorkEvent.Ingest(ctx, c.ID, []WorkEventInput{
		hours("E1", "2024-03-04", "8"),
		{EventID: "E2", Date: "2024-03-05", Units: "1", UnitType: " Expense ", Amount: "99.5"},
	}, ingestor)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.NotEmpty(t, res.BatchID)
	assert.Equal(t, "expense", res.Events[1].UnitType)
	require.NotNil(t, res.Events[1].Amount)
	assert.Equal(t, "99.50", models.Money(*res.Events[1].Amount))

	events, total, err := env.svc.WorkEvent.List(ctx, c.ID, repository.NewListQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, events, 2)

	entries, err := env.repos.Audit.ListByLineage(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionWorkEventIngest, entries[1].Action)
	assert.Equal(t, res.BatchID, entries[1].EntityID)
}

func TestWorkEventIngest_InvalidBatchWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.contract(t, hourlyClause(0.95))

	_, err := env.svc.WorkEvent.Ingest(ctx, c.ID, []WorkEventInput{
		hours("E1", "2024-03-04", "8"),
		hours("E1", "2024-03-05", "2"),
		{EventID: "E3", Date: "yesterday", Units: "abc", UnitType: "hour"},
		{EventID: "E4", Date: "2024-03-06", Units: "-1"},
	}, ingestor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	rows := map[int][]string{}
	for _, r := range verr.Rows {
		rows[r.Row] = append(rows[r.Row], r.Field)
	}
	assert.Equal(t, []string{"event_id"}, rows[2])
	assert.ElementsMatch(t, []string{"date", "units"}, rows[3])
	assert.ElementsMatch(t, []string{"unit_type", "units"}, rows[4])
	assert.NotContains(t, rows, 1)

	_, total, err := env.svc.WorkEvent.List(ctx, c.ID, repository.NewListQuery())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, []string{models.ActionContractIngest}, env.actions(t, c.ID))
}

func TestWorkEventIngest_RejectsValuesTheStoreWouldRound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.contract(t, hourlyClause(0.95))

	_, err := env.svc.WorkEvent.Ingest(ctx, c.ID, []WorkEventInput{
		hours("E1", "2024-03-04", "1.2345"),
		hours("E2", "2024-03-05", "1.23456"),
		{EventID: "E3", Date: "2024-03-06", Units: "1", UnitType: "hour", Amount: "10.00001"},
		hours("E4", "2024-03-07", "123456789012345"),
	}, ingestor)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	rows := map[int][]string{}
	for _, r := range verr.Rows {
		rows[r.Row] = append(rows[r.Row], r.Field)
	}
	assert.NotContains(t, rows, 1)
	assert.Equal(t, []string{"units"}, rows[2])
	assert.Equal(t, []string{"amount"}, rows[3])
	assert.Equal(t, []string{"units"}, rows[4])

	_, total, err := env.svc.WorkEvent.List(ctx, c.ID, repository.NewListQuery())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWorkEventIngest_UnknownContractAndRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.WorkEvent.Ingest(ctx, "missing", []WorkEventInput{hours("E1", "2024-03-04", "1")}, ingestor)
	assert.ErrorIs(t, err, ErrNotFound)

	c := env.contract(t, hourlyClause(0.95))
	_, err = env.svc.WorkEvent.Ingest(ctx, c.ID, []WorkEventInput{hours("E1", "2024-03-04", "1")}, cfo)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestWorkEventImportCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.contract(t, hourlyClause(0.95))

	csv := "\ufeffEvent_ID,date,description,units,unit_type,amount,external_ref,notes\n" +
		"E1,2024-03-04,Backend development,10,hour,2000.00,JIRA-1,ignored\n" +
		"E2,2024-03-05,Code review,2.5,hour,,,\n"

	res, err := env.svc.WorkEvent.ImportCSV(ctx, c.ID, strings.NewReader(csv), "march.csv", ingestor)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "JIRA-1", res.Events[0].ExternalRef)
	assert.Nil(t, res.Events[1].Amount)
	assert.True(t, res.Events[1].Units.Equal(dec("2.5")))

	require.NotEmpty(t, res.EvidencePath)
	assert.True(t, env.store.Exists(res.EvidencePath))

	entries, err := env.repos.Audit.ListByLineage(ctx, c.ID)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[len(entries)-1].Payload), &payload))
	assert.Equal(t, "csv", payload["source"])
	assert.Equal(t, res.EvidencePath, payload["evidence_path"])
}

func TestParseWorkEventCSV_Errors(t *testing.T) {
	_, err := ParseWorkEventCSV(strings.NewReader(""))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = ParseWorkEventCSV(strings.NewReader("event_id,date,units\nE1,2024-03-04,1\n"))
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "unit_type")
	assert.Contains(t, verr.Fields, "description")
}

func TestNumberText_UnmarshalJSON(t *testing.T) {
	var in WorkEventInput
	require.NoError(t, json.Unmarshal([]byte(`{"event_id":"E1","units":7.25,"amount":"12.00"}`), &in))
	assert.Equal(t, NumberText("7.25"), in.Units)
	assert.Equal(t, NumberText("12.00"), in.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"units":null}`), &in))
	assert.Equal(t, NumberText(""), in.Units)
}
