package services

import (
	"context"
	"testing"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lowConfidenceException derives an invoice with one low_confidence exception
func (e *testEnv) lowConfidenceException(t *testing.T) (*models.Invoice, models.Exception) {
	t.Helper()
	c := e.contract(t, hourlyClause(0.6))
	inv := e.derive(t, c.ID, e.events(t, c.ID, hours("E1", "2024-03-04", "10")))
	exceptions, err := e.svc.Exception.ListByInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	return inv, exceptions[0]
}

func TestResolve_RequiresNote(t *testing.T) {
	env := newTestEnv(t)
	_, exc := env.lowConfidenceException(t)

	_, err := env.svc.Exception.Resolve(context.Background(), exc.ID, Resolution{}, controller)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "note")
}

func TestResolve_PartialLeavesInvoiceInException(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clause := hourlyClause(0.6)
	clause.Category = "revenue_recognition"
	c := env.contract(t, clause)
	inv := env.derive(t, c.ID, env.events(t, c.ID, hours("E1", "2024-03-04", "10")))

	exceptions, err := env.svc.Exception.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 2)

	var low, elevated models.Exception
	for _, e := range exceptions {
		switch e.Kind {
		case models.ExceptionKindLowConfidence:
			low = e
		case models.ExceptionKindCFORequired:
			elevated = e
		}
	}
	require.NotEmpty(t, low.ID)
	require.NotEmpty(t, elevated.ID)

	res, err := env.svc.Exception.Resolve(ctx, low.ID, Resolution{Note: "hours confirmed"}, controller)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusException, res.Invoice.Status)
	assert.Equal(t, models.ExceptionStatusResolved, res.Exception.Status)

	res, err = env.svc.Exception.Resolve(ctx, elevated.ID, Resolution{Note: "recognition approved"}, cfo)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPendingReview, res.Invoice.Status)

	actions := env.actions(t, inv.LineageID)
	assert.Equal(t, 2, countAction(actions, models.ActionExceptionOpen))
	assert.Equal(t, 2, countAction(actions, models.ActionExceptionResolve))
	assert.Equal(t, 1, countAction(actions, models.ActionResolveAll))
}

func TestResolve_UnknownException(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Exception.Resolve(context.Background(), "missing", Resolution{Note: "x"}, controller)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv, exc := env.lowConfidenceException(t)

	_, err := env.svc.Exception.Comment(ctx, exc.ID, " ", controller)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	comment, err := env.svc.Exception.Comment(ctx, exc.ID, "asked the PM for timesheets", controller)
	require.NoError(t, err)
	assert.Equal(t, "Carla Controller", comment.AuthorName)

	stored, err := env.svc.Exception.Get(ctx, exc.ID)
	require.NoError(t, err)
	require.Len(t, stored.Comments, 1)
	assert.Equal(t, "asked the PM for timesheets", stored.Comments[0].Body)
	assert.Equal(t, 1, countAction(env.actions(t, inv.LineageID), models.ActionExceptionComment))
}

func TestAssign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv, exc := env.lowConfidenceException(t)

	_, err := env.svc.Exception.Assign(ctx, exc.ID, AssignRequest{ReviewerEmail: "ana@fintera.app", Role: "controller"}, ingestor)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.Exception.Assign(ctx, exc.ID, AssignRequest{ReviewerEmail: "not-an-email", Role: "controller"}, controller)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "reviewer_email")

	_, err = env.svc.Exception.Assign(ctx, exc.ID, AssignRequest{ReviewerEmail: "nobody@fintera.app"}, controller)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "role")

	assigned, err := env.svc.Exception.Assign(ctx, exc.ID, AssignRequest{ReviewerEmail: "Ana@Fintera.app", Role: "controller"}, controller)
	require.NoError(t, err)
	assert.Equal(t, "ana@fintera.app", assigned.AssignedReviewer)

	q := repository.NewListQuery()
	q.Filters["assigned_reviewer"] = "ana@fintera.app"
	queue, total, err := env.svc.Exception.ListPending(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, queue, 1)
	assert.Equal(t, exc.ID, queue[0].ID)

	assert.Equal(t, 1, countAction(env.actions(t, inv.LineageID), models.ActionExceptionAssign))
}

func TestAssign_CFORequiredStaysWithCFO(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	clause := hourlyClause(0.95)
	clause.RequiresElevatedApproval = true
	c := env.contract(t, clause)
	inv := env.derive(t, c.ID, env.events(t, c.ID, hours("E1", "2024-03-04", "1")))
	exceptions, err := env.svc.Exception.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)

	_, err = env.svc.Exception.Assign(ctx, exceptions[0].ID, AssignRequest{ReviewerEmail: "ana@fintera.app", Role: "controller"}, controller)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	assigned, err := env.svc.Exception.Assign(ctx, exceptions[0].ID, AssignRequest{ReviewerEmail: "deputy-cfo@fintera.app", Role: "cfo"}, cfo)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCFO, assigned.AssignedRole)
}
