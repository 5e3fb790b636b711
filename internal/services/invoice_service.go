package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/derivation"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/routing"
	"github.com/sjperalta/fintera-invoicing/internal/statemachine"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// DeriveRequest asks for a new invoice draft from a contract's current
// clauses and an explicit set of work events.
type DeriveRequest struct {
	ContractID   string     `json:"contract_id" binding:"required"`
	WorkEventIDs []string   `json:"work_event_ids" binding:"required"`
	InvoiceDate  *time.Time `json:"invoice_date"`
}

// InvoiceService derives invoices and drives their review lifecycle up to
// approval. Every transition holds the invoice's key in locks.
type InvoiceService struct {
	repos  *repository.Repositories
	policy *policy.Policy
	locks  *lock.Keyed
	audit  *AuditService
	email  *EmailService
	worker *jobs.Worker
	now    func() time.Time
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(repos *repository.Repositories, p *policy.Policy, locks *lock.Keyed, audit *AuditService, email *EmailService, worker *jobs.Worker) *InvoiceService {
	return &InvoiceService{
		repos:  repos,
		policy: p,
		locks:  locks,
		audit:  audit,
		email:  email,
		worker: worker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func invoiceKey(id string) string { return "invoice:" + id }

// draft is a derived invoice with its routed exceptions, not yet persisted.
type draft struct {
	invoice    *models.Invoice
	exceptions []models.Exception
}

// Derive creates a new invoice lineage from the given work events.
func (s *InvoiceService) Derive(ctx context.Context, req DeriveRequest, actor models.Actor) (*models.Invoice, error) {
	contract, events, err := s.loadInputs(ctx, req.ContractID, req.WorkEventIDs)
	if err != nil {
		return nil, err
	}

	invoiceDate := s.now()
	if req.InvoiceDate != nil {
		invoiceDate = *req.InvoiceDate
	}
	d, err := s.build(contract, events, invoiceDate, actor, nil)
	if err != nil {
		return nil, err
	}

	if err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return persistDraft(ctx, tx, d)
	}); err != nil {
		return nil, fmt.Errorf("persist invoice: %w", err)
	}

	recs := append([]AuditRecord{s.deriveRecord(models.ActionDerive, d, req.WorkEventIDs, actor, "")}, exceptionOpenRecords(d, actor)...)
	if err := s.audit.AppendAll(ctx, recs...); err != nil {
		return nil, err
	}

	logger.Info("invoice derived",
		"invoice_id", d.invoice.ID,
		"contract_id", contract.ID,
		"status", d.invoice.Status,
		"lines", len(d.invoice.Lines),
		"exceptions", len(d.exceptions),
		"confidence", d.invoice.AggregateConfidence)

	s.notifyReviewers(d)
	return d.invoice, nil
}

// Rederive replaces an invoice still under review with a new version derived
// from the same work events and the contract's current clauses. The old
// version is rejected and its open exceptions closed as superseded.
func (s *InvoiceService) Rederive(ctx context.Context, invoiceID, reason string, actor models.Actor) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Message: "re-derivation reason is required", Fields: map[string]string{"reason": "required"}}
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	old, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	if !old.MayRederive() {
		return nil, &InvalidTransitionError{InvoiceID: old.ID, From: old.Status, Event: "rederive"}
	}
	oldFSM := statemachine.NewInvoiceFSM(old)
	if err := oldFSM.Check(statemachine.EventReject); err != nil {
		return nil, err
	}

	eventIDs := old.SourceEventIDs()
	contract, events, err := s.loadInputs(ctx, old.ContractID, eventIDs)
	if err != nil {
		return nil, err
	}
	d, err := s.build(contract, events, old.InvoiceDate, actor, old)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rejection := fmt.Sprintf("superseded by %s: %s", d.invoice.ID, reason)
	previousStatus := old.Status
	var closed []models.Exception

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := persistDraft(ctx, tx, d); err != nil {
			return err
		}
		if closed, err = closePending(ctx, tx, old.ID, rejection, actor.ID, now); err != nil {
			return err
		}
		return tx.Invoice.UpdateStatus(ctx, old.ID, previousStatus, models.InvoiceStatusRejected, map[string]any{
			"rejected_at":      now,
			"rejected_by":      actor.ID,
			"rejection_reason": rejection,
		})
	})
	if err != nil {
		return nil, translate(err, "re-derive invoice")
	}

	recs := []AuditRecord{s.deriveRecord(models.ActionRederive, d, eventIDs, actor, reason)}
	recs = append(recs, exceptionOpenRecords(d, actor)...)
	recs = append(recs, closedRecords(old, closed, rejection, actor)...)
	recs = append(recs, AuditRecord{
		LineageID:  old.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   old.ID,
		Action:     models.ActionReject,
		Actor:      actor,
		Payload: map[string]any{
			"from":          previousStatus,
			"reason":        rejection,
			"superseded_by": d.invoice.ID,
		},
	})
	if err := s.audit.AppendAll(ctx, recs...); err != nil {
		return nil, err
	}

	logger.Info("invoice re-derived", "invoice_id", d.invoice.ID, "supersedes", old.ID, "version", d.invoice.Version, "status", d.invoice.Status)
	s.notifyReviewers(d)
	return d.invoice, nil
}

// Get returns an invoice with its lines
func (s *InvoiceService) Get(ctx context.Context, id string) (*models.Invoice, error) {
	inv, err := s.repos.Invoice.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	return inv, nil
}

// List returns invoices filtered by status, contract or lineage
func (s *InvoiceService) List(ctx context.Context, query *repository.ListQuery) ([]models.Invoice, int64, error) {
	return s.repos.Invoice.List(ctx, query)
}

// ReviewLine records that reviewer has looked at one line.
func (s *InvoiceService) ReviewLine(ctx context.Context, invoiceID, lineID string, reviewer models.Actor) (*models.InvoiceLine, error) {
	if !reviewer.HasRole(models.RoleController, models.RoleCFO, models.RoleAdmin) {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	inv, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	if !inv.MayReview() {
		return nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, Event: "review"}
	}
	line, ok := inv.Line(lineID)
	if !ok {
		return nil, fmt.Errorf("invoice line %s: %w", lineID, ErrNotFound)
	}

	now := s.now()
	if err := s.repos.Invoice.MarkLineReviewed(ctx, inv.ID, line.ID, reviewer.ID, now); err != nil {
		return nil, translate(err, "review line")
	}
	line.ReviewedBy = &reviewer.ID
	line.ReviewedAt = &now

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityLine,
		EntityID:   line.ID,
		Action:     models.ActionLineReview,
		Actor:      reviewer,
		Payload: map[string]any{
			"invoice_id":  inv.ID,
			"line_number": line.Number,
			"status":      inv.Status,
		},
		Confidence: &line.Confidence,
	}); err != nil {
		return nil, err
	}
	return line, nil
}

// Reject ends an invoice's lifecycle without pushing it.
func (s *InvoiceService) Reject(ctx context.Context, invoiceID, reason string, actor models.Actor) (*models.Invoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Message: "rejection reason is required", Fields: map[string]string{"reason": "required"}}
	}
	if !actor.HasRole(models.RoleController, models.RoleCFO, models.RoleAdmin) {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	inv, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	from := inv.Status
	m := statemachine.NewInvoiceFSM(inv)
	if err := m.Check(statemachine.EventReject); err != nil {
		return nil, err
	}

	now := s.now()
	resolution := "invoice rejected: " + reason
	var closed []models.Exception
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if closed, err = closePending(ctx, tx, inv.ID, resolution, actor.ID, now); err != nil {
			return err
		}
		return tx.Invoice.UpdateStatus(ctx, inv.ID, from, models.InvoiceStatusRejected, map[string]any{
			"rejected_at":      now,
			"rejected_by":      actor.ID,
			"rejection_reason": reason,
		})
	})
	if err != nil {
		return nil, translate(err, "reject invoice")
	}
	if err := m.Reject(ctx); err != nil {
		return nil, err
	}
	inv.RejectedAt = &now
	inv.RejectedBy = &actor.ID
	inv.RejectionReason = &reason

	recs := closedRecords(inv, closed, resolution, actor)
	recs = append(recs, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     models.ActionReject,
		Actor:      actor,
		Payload:    map[string]any{"from": from, "reason": reason},
	})
	if err := s.audit.AppendAll(ctx, recs...); err != nil {
		return nil, err
	}
	return inv, nil
}

// closePending resolves every still-open exception of an invoice that is
// leaving review, so none is left in the reviewer queue.
func closePending(ctx context.Context, tx *repository.Repositories, invoiceID, resolution, actorID string, at time.Time) ([]models.Exception, error) {
	all, err := tx.Exception.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	var closed []models.Exception
	for _, e := range all {
		if !e.IsPending() {
			continue
		}
		if err := tx.Exception.Resolve(ctx, e.ID, resolution, actorID, at); err != nil {
			return nil, err
		}
		closed = append(closed, e)
	}
	return closed, nil
}

func closedRecords(inv *models.Invoice, closed []models.Exception, resolution string, actor models.Actor) []AuditRecord {
	recs := make([]AuditRecord, 0, len(closed)+1)
	for _, e := range closed {
		recs = append(recs, AuditRecord{
			LineageID:  inv.LineageID,
			EntityType: models.EntityException,
			EntityID:   e.ID,
			Action:     models.ActionExceptionResolve,
			Actor:      actor,
			Payload: map[string]any{
				"invoice_id": inv.ID,
				"kind":       e.Kind,
				"resolution": resolution,
			},
		})
	}
	return recs
}

// loadInputs fetches the contract with its current clauses and the
// requested work events, rejecting unknown ids and foreign events.
func (s *InvoiceService) loadInputs(ctx context.Context, contractID string, eventIDs []string) (*models.Contract, []models.WorkEvent, error) {
	verr := &ValidationError{Message: "invalid derivation request"}
	if strings.TrimSpace(contractID) == "" {
		verr.field("contract_id", "required")
	}
	ids := dedupe(eventIDs)
	if len(ids) == 0 {
		verr.field("work_event_ids", "at least one work event is required")
	}
	if !verr.empty() {
		return nil, nil, verr
	}

	contract, err := s.repos.Contract.FindByID(ctx, contractID)
	if err != nil {
		return nil, nil, translate(err, "contract")
	}

	events, err := s.repos.WorkEvent.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load work events: %w", err)
	}
	found := make(map[string]bool, len(events))
	for _, e := range events {
		found[e.ID] = true
		if e.ContractID != contract.ID {
			verr.field("work_event_ids", fmt.Sprintf("work event %s belongs to another contract", e.ID))
		}
	}
	for _, id := range ids {
		if !found[id] {
			verr.field("work_event_ids", fmt.Sprintf("work event %s not found", id))
		}
	}
	if !verr.empty() {
		return nil, nil, verr
	}
	return contract, events, nil
}

// build runs derivation and routing and applies the flag/clear transition
// in memory, so the invoice is first written in its post-routing status.
func (s *InvoiceService) build(contract *models.Contract, events []models.WorkEvent, invoiceDate time.Time, actor models.Actor, supersedes *models.Invoice) (*draft, error) {
	res, err := derivation.Derive(derivation.Input{
		Contract:    contract,
		Clauses:     contract.Clauses,
		Events:      events,
		Policy:      s.policy,
		InvoiceDate: invoiceDate,
	})
	if err != nil {
		if errors.Is(err, derivation.ErrNoWorkEvents) {
			return nil, &ValidationError{Message: err.Error(), Fields: map[string]string{"work_event_ids": "required"}}
		}
		return nil, err
	}

	inv := &models.Invoice{
		ID:                  models.NewID(),
		ContractID:          contract.ID,
		ContractVersion:     contract.Version,
		Version:             1,
		Currency:            contract.Currency,
		AggregateConfidence: res.AggregateConfidence,
		Status:              models.InvoiceStatusDraft,
		Explainability:      res.Explainability,
		InvoiceDate:         res.InvoiceDate,
		DueDate:             res.DueDate,
		DerivedBy:           actor.ID,
		DerivedByType:       actor.Type,
		Lines:               res.Lines,
	}
	inv.LineageID = inv.ID
	if supersedes != nil {
		inv.LineageID = supersedes.LineageID
		inv.Version = supersedes.Version + 1
		inv.SupersedesID = &supersedes.ID
	}
	for i := range inv.Lines {
		inv.Lines[i].ID = models.NewID()
		inv.Lines[i].InvoiceID = inv.ID
	}

	routed, err := routing.Route(inv.Lines, s.policy, refsFor(contract, events))
	if err != nil {
		return nil, fmt.Errorf("route exceptions: %w", err)
	}

	d := &draft{invoice: inv}
	for _, r := range routed {
		detail, err := routing.Encode(r.Flag)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.LineNumber, err)
		}
		e := models.Exception{
			ID:               models.NewID(),
			InvoiceID:        inv.ID,
			LineID:           r.LineID,
			Kind:             r.Flag.Kind(),
			Reason:           r.Flag.Reason(),
			Detail:           detail,
			Status:           models.ExceptionStatusPending,
			AssignedReviewer: r.Reviewer.Email,
			AssignedRole:     r.Reviewer.Role,
		}
		d.exceptions = append(d.exceptions, e)
	}

	m := statemachine.NewInvoiceFSM(inv)
	if len(d.exceptions) > 0 {
		err = m.Flag(context.Background())
	} else {
		err = m.Clear(context.Background())
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func persistDraft(ctx context.Context, tx *repository.Repositories, d *draft) error {
	if err := tx.Invoice.Create(ctx, d.invoice); err != nil {
		return err
	}
	if len(d.exceptions) == 0 {
		return nil
	}
	return tx.Exception.CreateBatch(ctx, d.exceptions)
}

func (s *InvoiceService) deriveRecord(action string, d *draft, eventIDs []string, actor models.Actor, reason string) AuditRecord {
	inv := d.invoice
	payload := map[string]any{
		"contract_id":      inv.ContractID,
		"contract_version": inv.ContractVersion,
		"version":          inv.Version,
		"status":           inv.Status,
		"work_event_ids":   dedupe(eventIDs),
		"line_count":       len(inv.Lines),
		"exception_count":  len(d.exceptions),
		"subtotal":         models.Money(inv.Subtotal()),
		"tax":              models.Money(inv.Tax()),
		"total":            models.Money(inv.Total()),
		"content_hash":     ContentHash(inv),
		"explainability":   inv.Explainability,
	}
	if inv.SupersedesID != nil {
		payload["supersedes_id"] = *inv.SupersedesID
	}
	if reason != "" {
		payload["reason"] = reason
	}
	confidence := inv.AggregateConfidence
	return AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     action,
		Actor:      actor,
		Payload:    payload,
		Confidence: &confidence,
	}
}

func exceptionOpenRecords(d *draft, actor models.Actor) []AuditRecord {
	recs := make([]AuditRecord, 0, len(d.exceptions))
	for _, e := range d.exceptions {
		var confidence *float64
		if l, ok := d.invoice.Line(e.LineID); ok {
			c := l.Confidence
			confidence = &c
		}
		recs = append(recs, AuditRecord{
			LineageID:  d.invoice.LineageID,
			EntityType: models.EntityException,
			EntityID:   e.ID,
			Action:     models.ActionExceptionOpen,
			Actor:      actor,
			Payload: map[string]any{
				"invoice_id":  d.invoice.ID,
				"line_id":     e.LineID,
				"kind":        e.Kind,
				"reason":      e.Reason,
				"flag":        e.Detail,
				"assigned_to": e.AssignedReviewer,
				"role":        e.AssignedRole,
			},
			Confidence: confidence,
		})
	}
	return recs
}

// notifyReviewers emails every assigned reviewer once per invoice.
func (s *InvoiceService) notifyReviewers(d *draft) {
	if s.email == nil || s.worker == nil || len(d.exceptions) == 0 {
		return
	}
	byReviewer := make(map[string][]models.Exception)
	var order []string
	for _, e := range d.exceptions {
		if _, ok := byReviewer[e.AssignedReviewer]; !ok {
			order = append(order, e.AssignedReviewer)
		}
		byReviewer[e.AssignedReviewer] = append(byReviewer[e.AssignedReviewer], e)
	}
	inv := d.invoice
	for _, reviewer := range order {
		to, list := reviewer, byReviewer[reviewer]
		s.worker.EnqueueAsync(func(ctx context.Context) error {
			return s.email.SendExceptionsAssigned(ctx, to, inv, list)
		})
	}
}

func refsFor(contract *models.Contract, events []models.WorkEvent) routing.Refs {
	refs := routing.Refs{
		Clauses: make(map[string]*models.Clause, len(contract.Clauses)),
		Events:  make(map[string]*models.WorkEvent, len(events)),
	}
	for i := range contract.Clauses {
		refs.Clauses[contract.Clauses[i].ID] = &contract.Clauses[i]
	}
	for i := range events {
		refs.Events[events[i].ID] = &events[i]
	}
	return refs
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
