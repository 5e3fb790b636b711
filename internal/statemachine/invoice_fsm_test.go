package statemachine

import (
	"context"
	"errors"
	"testing"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceFSM_LegalTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		from  string
		event string
		to    string
	}{
		{models.InvoiceStatusDraft, EventFlag, models.InvoiceStatusException},
		{models.InvoiceStatusDraft, EventClear, models.InvoiceStatusPendingReview},
		{models.InvoiceStatusException, EventResolveAll, models.InvoiceStatusPendingReview},
		{models.InvoiceStatusPendingReview, EventApprove, models.InvoiceStatusApproved},
		{models.InvoiceStatusDraft, EventReject, models.InvoiceStatusRejected},
		{models.InvoiceStatusException, EventReject, models.InvoiceStatusRejected},
		{models.InvoiceStatusPendingReview, EventReject, models.InvoiceStatusRejected},
		{models.InvoiceStatusApproved, EventPush, models.InvoiceStatusPushed},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_"+tt.event, func(t *testing.T) {
			inv := &models.Invoice{ID: "inv-1", Status: tt.from}
			require.NoError(t, NewInvoiceFSM(inv).Fire(ctx, tt.event))
			assert.Equal(t, tt.to, inv.Status)
		})
	}
}

func TestInvoiceFSM_IllegalTransitionsLeaveStatusUnchanged(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		from  string
		event string
	}{
		{models.InvoiceStatusDraft, EventPush},
		{models.InvoiceStatusDraft, EventApprove},
		{models.InvoiceStatusException, EventApprove},
		{models.InvoiceStatusPendingReview, EventPush},
		{models.InvoiceStatusApproved, EventReject},
		{models.InvoiceStatusApproved, EventApprove},
		{models.InvoiceStatusPushed, EventPush},
		{models.InvoiceStatusRejected, EventApprove},
		{models.InvoiceStatusPendingReview, "teleport"},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_"+tt.event, func(t *testing.T) {
			inv := &models.Invoice{ID: "inv-1", Status: tt.from}
			err := NewInvoiceFSM(inv).Fire(ctx, tt.event)

			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite), "expected InvalidTransitionError, got %v", err)
			assert.Equal(t, tt.from, ite.From)
			assert.Equal(t, tt.event, ite.Event)
			assert.Equal(t, tt.from, inv.Status)
		})
	}
}

func TestInvoiceFSM_Check(t *testing.T) {
	inv := &models.Invoice{ID: "inv-1", Status: models.InvoiceStatusApproved}
	f := NewInvoiceFSM(inv)
	assert.NoError(t, f.Check(EventPush))
	assert.Error(t, f.Check(EventApprove))
	assert.Equal(t, models.InvoiceStatusApproved, f.Current())
}
