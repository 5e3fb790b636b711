package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/fintera-invoicing/internal/models"
)

// Invoice events
const (
	EventFlag       = "flag"
	EventClear      = "clear"
	EventResolveAll = "resolve_all"
	EventApprove    = "approve"
	EventReject     = "reject"
	EventPush       = "push"
)

// InvalidTransitionError is returned for any transition outside the table.
// The invoice status is left unchanged.
type InvalidTransitionError struct {
	InvoiceID string
	From      string
	Event     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s invoice %s in status %s", e.Event, e.InvoiceID, e.From)
}

// InvoiceFSM wraps an invoice with its state machine
type InvoiceFSM struct {
	invoice *models.Invoice
	fsm     *fsm.FSM
}

// NewInvoiceFSM creates a new invoice state machine
func NewInvoiceFSM(invoice *models.Invoice) *InvoiceFSM {
	ifsm := &InvoiceFSM{
		invoice: invoice,
	}

	ifsm.fsm = fsm.NewFSM(
		invoice.Status,
		fsm.Events{
			// draft → exception (router opened at least one exception)
			{Name: EventFlag, Src: []string{models.InvoiceStatusDraft}, Dst: models.InvoiceStatusException},

			// draft → pending_review (nothing to review)
			{Name: EventClear, Src: []string{models.InvoiceStatusDraft}, Dst: models.InvoiceStatusPendingReview},

			// exception → pending_review (last exception resolved)
			{Name: EventResolveAll, Src: []string{models.InvoiceStatusException}, Dst: models.InvoiceStatusPendingReview},

			// pending_review → approved
			{Name: EventApprove, Src: []string{models.InvoiceStatusPendingReview}, Dst: models.InvoiceStatusApproved},

			// any non-terminal pre-approval state → rejected
			{Name: EventReject, Src: []string{models.InvoiceStatusDraft, models.InvoiceStatusException, models.InvoiceStatusPendingReview}, Dst: models.InvoiceStatusRejected},

			// approved → pushed (export gate acknowledged)
			{Name: EventPush, Src: []string{models.InvoiceStatusApproved}, Dst: models.InvoiceStatusPushed},
		},
		fsm.Callbacks{},
	)

	return ifsm
}

// Flag moves a fresh draft into exception review
func (f *InvoiceFSM) Flag(ctx context.Context) error {
	return f.transition(ctx, EventFlag)
}

// Clear moves a fresh draft straight to pending review
func (f *InvoiceFSM) Clear(ctx context.Context) error {
	return f.transition(ctx, EventClear)
}

// ResolveAll moves the invoice out of exception once nothing is pending
func (f *InvoiceFSM) ResolveAll(ctx context.Context) error {
	return f.transition(ctx, EventResolveAll)
}

// Approve transitions invoice to approved state
func (f *InvoiceFSM) Approve(ctx context.Context) error {
	return f.transition(ctx, EventApprove)
}

// Reject transitions invoice to rejected state
func (f *InvoiceFSM) Reject(ctx context.Context) error {
	return f.transition(ctx, EventReject)
}

// Push transitions invoice to pushed state
func (f *InvoiceFSM) Push(ctx context.Context) error {
	return f.transition(ctx, EventPush)
}

// Fire runs the named event
func (f *InvoiceFSM) Fire(ctx context.Context, event string) error {
	return f.transition(ctx, event)
}

func (f *InvoiceFSM) transition(ctx context.Context, event string) error {
	from := f.fsm.Current()
	if !f.fsm.Can(event) {
		return &InvalidTransitionError{InvoiceID: f.invoice.ID, From: from, Event: event}
	}

	if err := f.fsm.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("failed to %s invoice: %w", event, err)
	}

	f.invoice.Status = f.fsm.Current()
	return nil
}

// Current returns the current state
func (f *InvoiceFSM) Current() string {
	return f.fsm.Current()
}

// Can checks if a transition is possible
func (f *InvoiceFSM) Can(event string) bool {
	return f.fsm.Can(event)
}

// Check returns the error a transition would produce without firing it
func (f *InvoiceFSM) Check(event string) error {
	if !f.fsm.Can(event) {
		return &InvalidTransitionError{InvoiceID: f.invoice.ID, From: f.fsm.Current(), Event: event}
	}
	return nil
}
