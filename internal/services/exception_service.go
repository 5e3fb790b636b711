package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/routing"
	"github.com/sjperalta/fintera-invoicing/internal/statemachine"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// ErrAlreadyResolved is returned when resolving an exception twice
var ErrAlreadyResolved = errors.New("exception is already resolved")

// Resolution is a reviewer's decision on one exception. Rederive asks for
// an explicit re-derivation once the exception is closed.
type Resolution struct {
	Note           string `json:"note"`
	Rederive       bool   `json:"rederive"`
	RederiveReason string `json:"rederive_reason"`
}

// ResolveResult reports what a resolution changed
type ResolveResult struct {
	Exception *models.Exception `json:"exception"`
	Invoice   *models.Invoice   `json:"invoice"`
	Rederived *models.Invoice   `json:"rederived,omitempty"`
}

// AssignRequest hands an exception to another reviewer
type AssignRequest struct {
	ReviewerEmail string `json:"reviewer_email"`
	Role          string `json:"role"`
}

// ExceptionService manages exception review. Opening exceptions is part of
// derivation; everything after that goes through here.
type ExceptionService struct {
	repos    *repository.Repositories
	locks    *lock.Keyed
	audit    *AuditService
	invoices *InvoiceService
	email    *EmailService
	worker   *jobs.Worker
	now      func() time.Time
}

// NewExceptionService creates a new exception service
func NewExceptionService(repos *repository.Repositories, locks *lock.Keyed, audit *AuditService, invoices *InvoiceService, email *EmailService, worker *jobs.Worker) *ExceptionService {
	return &ExceptionService{
		repos:    repos,
		locks:    locks,
		audit:    audit,
		invoices: invoices,
		email:    email,
		worker:   worker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns an exception with its comment thread
func (s *ExceptionService) Get(ctx context.Context, id string) (*models.Exception, error) {
	e, err := s.repos.Exception.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "exception")
	}
	return e, nil
}

// ListByInvoice returns every exception raised on an invoice
func (s *ExceptionService) ListByInvoice(ctx context.Context, invoiceID string) ([]models.Exception, error) {
	if _, err := s.repos.Invoice.FindByID(ctx, invoiceID); err != nil {
		return nil, translate(err, "invoice")
	}
	return s.repos.Exception.ListByInvoice(ctx, invoiceID)
}

// ListPending is the review queue across invoices
func (s *ExceptionService) ListPending(ctx context.Context, query *repository.ListQuery) ([]models.Exception, int64, error) {
	return s.repos.Exception.ListPending(ctx, query)
}

// DecodeFlag restores the typed flag stored on an exception
func DecodeFlag(e *models.Exception) (routing.Flag, error) {
	return routing.Decode(e.Detail)
}

// Resolve closes one exception. When it was the last pending one the
// invoice moves on to pending_review. Resolution never re-derives by
// itself; Rederive triggers a separate, separately audited re-derivation.
func (s *ExceptionService) Resolve(ctx context.Context, exceptionID string, res Resolution, actor models.Actor) (*ResolveResult, error) {
	note := strings.TrimSpace(res.Note)
	verr := &ValidationError{Message: "invalid resolution"}
	if note == "" {
		verr.field("note", "a resolution note is required")
	}
	if res.Rederive && strings.TrimSpace(res.RederiveReason) == "" {
		verr.field("rederive_reason", "required when rederive is requested")
	}
	if !verr.empty() {
		return nil, verr
	}

	exc, err := s.repos.Exception.FindByID(ctx, exceptionID)
	if err != nil {
		return nil, translate(err, "exception")
	}
	if !actor.HasRole(routing.RequiredRoles(exc.Kind)...) {
		return nil, ErrForbidden
	}

	result, err := s.resolveLocked(ctx, exc.InvoiceID, exceptionID, note, actor)
	if err != nil {
		return nil, err
	}

	if res.Rederive {
		rederived, err := s.invoices.Rederive(ctx, result.Invoice.ID, res.RederiveReason, actor)
		if err != nil {
			return result, fmt.Errorf("exception resolved but re-derivation failed: %w", err)
		}
		result.Rederived = rederived
	}
	return result, nil
}

func (s *ExceptionService) resolveLocked(ctx context.Context, invoiceID, exceptionID, note string, actor models.Actor) (*ResolveResult, error) {
	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	exc, err := s.repos.Exception.FindByID(ctx, exceptionID)
	if err != nil {
		return nil, translate(err, "exception")
	}
	if !exc.IsPending() {
		return nil, ErrAlreadyResolved
	}
	inv, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	if inv.Status != models.InvoiceStatusException {
		return nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, Event: "resolve"}
	}

	now := s.now()
	m := statemachine.NewInvoiceFSM(inv)
	allResolved := false

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Exception.Resolve(ctx, exc.ID, note, actor.ID, now); err != nil {
			return err
		}
		remaining, err := tx.Exception.CountPending(ctx, inv.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		if err := m.Check(statemachine.EventResolveAll); err != nil {
			return err
		}
		allResolved = true
		return tx.Invoice.UpdateStatus(ctx, inv.ID, models.InvoiceStatusException, models.InvoiceStatusPendingReview, nil)
	})
	if err != nil {
		return nil, translate(err, "resolve exception")
	}

	exc.Status = models.ExceptionStatusResolved
	exc.Resolution = &note
	exc.ResolvedBy = &actor.ID
	exc.ResolvedAt = &now

	recs := []AuditRecord{{
		LineageID:  inv.LineageID,
		EntityType: models.EntityException,
		EntityID:   exc.ID,
		Action:     models.ActionExceptionResolve,
		Actor:      actor,
		Payload: map[string]any{
			"invoice_id": inv.ID,
			"line_id":    exc.LineID,
			"kind":       exc.Kind,
			"resolution": note,
		},
	}}
	if allResolved {
		if err := m.ResolveAll(ctx); err != nil {
			return nil, err
		}
		recs = append(recs, AuditRecord{
			LineageID:  inv.LineageID,
			EntityType: models.EntityInvoice,
			EntityID:   inv.ID,
			Action:     models.ActionResolveAll,
			Actor:      actor,
			Payload: map[string]any{
				"from":              models.InvoiceStatusException,
				"to":                models.InvoiceStatusPendingReview,
				"last_exception_id": exc.ID,
			},
		})
	}
	if err := s.audit.AppendAll(ctx, recs...); err != nil {
		return nil, err
	}

	logger.Info("exception resolved", "exception_id", exc.ID, "invoice_id", inv.ID, "kind", exc.Kind, "all_resolved", allResolved)
	return &ResolveResult{Exception: exc, Invoice: inv}, nil
}

// Comment appends a message to the exception's discussion thread
func (s *ExceptionService) Comment(ctx context.Context, exceptionID, body string, actor models.Actor) (*models.ExceptionComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &ValidationError{Message: "comment body is required", Fields: map[string]string{"body": "required"}}
	}
	exc, err := s.repos.Exception.FindByID(ctx, exceptionID)
	if err != nil {
		return nil, translate(err, "exception")
	}
	inv, err := s.repos.Invoice.FindByID(ctx, exc.InvoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}

	comment := &models.ExceptionComment{
		ID:          models.NewID(),
		ExceptionID: exc.ID,
		AuthorID:    actor.ID,
		AuthorName:  actor.Name,
		Body:        body,
		CreatedAt:   s.now(),
	}
	if err := s.repos.Exception.AddComment(ctx, comment); err != nil {
		return nil, err
	}

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityException,
		EntityID:   exc.ID,
		Action:     models.ActionExceptionComment,
		Actor:      actor,
		Payload:    map[string]any{"comment_id": comment.ID, "body": body},
	}); err != nil {
		return nil, err
	}
	return comment, nil
}

// Assign hands a pending exception to another reviewer. CFO-required
// exceptions can only go to a CFO.
func (s *ExceptionService) Assign(ctx context.Context, exceptionID string, req AssignRequest, actor models.Actor) (*models.Exception, error) {
	if !actor.HasRole(models.RoleController, models.RoleCFO, models.RoleAdmin) {
		return nil, ErrForbidden
	}

	email := strings.ToLower(strings.TrimSpace(req.ReviewerEmail))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	verr := &ValidationError{Message: "invalid assignment"}
	if _, err := mail.ParseAddress(email); err != nil {
		verr.field("reviewer_email", "must be a valid email address")
	}
	if role == "" {
		if u, err := s.repos.User.FindByEmail(ctx, email); err == nil {
			role = u.Role
		}
	}
	if role != models.RoleController && role != models.RoleCFO {
		verr.field("role", "must be controller or cfo")
	}
	if !verr.empty() {
		return nil, verr
	}

	exc, err := s.repos.Exception.FindByID(ctx, exceptionID)
	if err != nil {
		return nil, translate(err, "exception")
	}
	if !exc.IsPending() {
		return nil, ErrAlreadyResolved
	}
	if exc.Kind == models.ExceptionKindCFORequired && role != models.RoleCFO {
		return nil, &ValidationError{Message: "invalid assignment", Fields: map[string]string{"role": "cfo_required exceptions must be assigned to a cfo"}}
	}
	inv, err := s.repos.Invoice.FindByID(ctx, exc.InvoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}

	previous := exc.AssignedReviewer
	if err := s.repos.Exception.Assign(ctx, exc.ID, email, role); err != nil {
		return nil, translate(err, "assign exception")
	}
	exc.AssignedReviewer = email
	exc.AssignedRole = role

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityException,
		EntityID:   exc.ID,
		Action:     models.ActionExceptionAssign,
		Actor:      actor,
		Payload:    map[string]any{"from": previous, "to": email, "role": role},
	}); err != nil {
		return nil, err
	}

	if s.email != nil && s.worker != nil {
		assigned := *exc
		s.worker.EnqueueAsync(func(ctx context.Context) error {
			return s.email.SendExceptionsAssigned(ctx, email, inv, []models.Exception{assigned})
		})
	}
	return exc, nil
}
