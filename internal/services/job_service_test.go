package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobService_GetStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status, err := env.svc.Job.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.PushRetryBacklog)
	assert.Zero(t, status.IntegrityHolds)
	assert.Equal(t, 3, status.PushMaxAttempts)
	assert.Equal(t, 10, status.Worker.MaxConcurrent)

	inv := env.approvedInvoice(t)
	env.gate.fail(errors.New("gateway unavailable"))
	_, err = env.svc.Push.Push(ctx, inv.ID, controller)
	require.Error(t, err)

	_, err = env.repos.Invoice.SetIntegrityHold(ctx, inv.LineageID, true)
	require.NoError(t, err)

	status, err = env.svc.Job.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.IntegrityHolds)
	assert.Zero(t, status.PushRetryBacklog, "held invoices are not retried")

	_, err = env.repos.Invoice.SetIntegrityHold(ctx, inv.LineageID, false)
	require.NoError(t, err)
	status, err = env.svc.Job.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PushRetryBacklog)
}
