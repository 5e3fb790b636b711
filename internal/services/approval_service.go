package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/statemachine"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// ApprovalRequest carries the approver's identity and explicit confirmation.
// ApproverID is taken from the authenticated actor.
type ApprovalRequest struct {
	ApproverName  string `json:"approver_name"`
	ApproverEmail string `json:"approver_email"`
	Note          string `json:"note"`
	Confirmed     bool   `json:"confirmed"`
}

// ApprovalVerification compares an approval's bound hash with the invoice
// as it is stored now.
type ApprovalVerification struct {
	InvoiceID   string `json:"invoice_id"`
	ApprovalID  string `json:"approval_id"`
	BoundHash   string `json:"bound_hash"`
	CurrentHash string `json:"current_hash"`
	Matches     bool   `json:"matches"`
}

// ApprovalService grants the single human approval an invoice needs before
// it can be pushed.
type ApprovalService struct {
	repos *repository.Repositories
	locks *lock.Keyed
	audit *AuditService
	now   func() time.Time
}

// NewApprovalService creates a new approval service
func NewApprovalService(repos *repository.Repositories, locks *lock.Keyed, audit *AuditService) *ApprovalService {
	return &ApprovalService{
		repos: repos,
		locks: locks,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Approve moves a pending_review invoice to approved. It fails without any
// mutation when the request is incomplete, an exception is still open, a
// line has not been reviewed by this approver, or the audit chain is broken.
func (s *ApprovalService) Approve(ctx context.Context, invoiceID string, req ApprovalRequest, actor models.Actor) (*models.Approval, error) {
	verr := &ValidationError{Message: "invalid approval request"}
	if actor.ID == "" || actor.IsSystem() {
		verr.field("approver_id", "an authenticated user must approve")
	}
	name := strings.TrimSpace(req.ApproverName)
	if name == "" {
		verr.field("approver_name", "required")
	}
	email := strings.TrimSpace(req.ApproverEmail)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.field("approver_email", "must be a valid email address")
	}
	if !req.Confirmed {
		verr.field("confirmed", "approval must be explicitly confirmed")
	}
	if !verr.empty() {
		return nil, verr
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
	m := statemachine.NewInvoiceFSM(inv)
	if err := m.Check(statemachine.EventApprove); err != nil {
		return nil, err
	}
	pending, err := s.repos.Exception.CountPending(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, &InvalidTransitionError{InvoiceID: inv.ID, From: inv.Status, Event: statemachine.EventApprove}
	}
	if unreviewed := inv.UnreviewedBy(actor.ID); len(unreviewed) > 0 {
		return nil, &ValidationError{Message: "every line must be reviewed by the approver", LineIDs: unreviewed}
	}
	if err := s.audit.EnsureIntact(ctx, inv); err != nil {
		return nil, err
	}

	now := s.now()
	approval := &models.Approval{
		ID:                 models.NewID(),
		InvoiceID:          inv.ID,
		ApproverID:         actor.ID,
		ApproverName:       name,
		ApproverEmail:      email,
		Note:               strings.TrimSpace(req.Note),
		ApprovedAt:         now,
		ContentHash:        ContentHash(inv),
		ConfidenceSnapshot: inv.AggregateConfidence,
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Approval.Create(ctx, approval); err != nil {
			if repository.IsDuplicateKey(err) {
				return repository.ErrConflict
			}
			return err
		}
		return tx.Invoice.UpdateStatus(ctx, inv.ID, models.InvoiceStatusPendingReview, models.InvoiceStatusApproved, map[string]any{
			"approved_at": now,
		})
	})
	if err != nil {
		return nil, translate(err, "approve invoice")
	}
	if err := m.Approve(ctx); err != nil {
		return nil, err
	}
	inv.ApprovedAt = &now

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     models.ActionApprove,
		Actor:      actor,
		Payload: map[string]any{
			"approval_id":    approval.ID,
			"approver_name":  approval.ApproverName,
			"approver_email": approval.ApproverEmail,
			"note":           approval.Note,
			"content_hash":   approval.ContentHash,
			"total":          models.Money(inv.Total()),
		},
		Confidence: &approval.ConfidenceSnapshot,
	}); err != nil {
		return nil, err
	}

	logger.Info("invoice approved", "invoice_id", inv.ID, "approval_id", approval.ID, "approver", actor.ID)
	return approval, nil
}

// VerifyApproval recomputes the content hash and compares it with the one
// bound at approval time.
func (s *ApprovalService) VerifyApproval(ctx context.Context, invoiceID string) (*ApprovalVerification, error) {
	inv, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	approval, err := s.repos.Approval.FindByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "approval")
	}
	current := ContentHash(inv)
	return &ApprovalVerification{
		InvoiceID:   inv.ID,
		ApprovalID:  approval.ID,
		BoundHash:   approval.ContentHash,
		CurrentHash: current,
		Matches:     current == approval.ContentHash,
	}, nil
}

type hashedLine struct {
	Number                   int      `json:"number"`
	Kind                     string   `json:"kind"`
	Description              string   `json:"description"`
	Quantity                 string   `json:"quantity"`
	Unit                     string   `json:"unit"`
	UnitPrice                string   `json:"unit_price"`
	Amount                   string   `json:"amount"`
	ClauseID                 string   `json:"clause_id"`
	EventIDs                 []string `json:"event_ids"`
	Confidence               float64  `json:"confidence"`
	IsException              bool     `json:"is_exception"`
	ExceptionKind            string   `json:"exception_kind"`
	RequiresElevatedApproval bool     `json:"requires_elevated_approval"`
	Explanation              string   `json:"explanation"`
}

type hashedInvoice struct {
	InvoiceID       string       `json:"invoice_id"`
	ContractID      string       `json:"contract_id"`
	ContractVersion int          `json:"contract_version"`
	Version         int          `json:"version"`
	Currency        string       `json:"currency"`
	Lines           []hashedLine `json:"lines"`
	Subtotal        string       `json:"subtotal"`
	Tax             string       `json:"tax"`
	Total           string       `json:"total"`
}

// ContentHash fingerprints everything an approver signs off on. Review
// flags, status and push bookkeeping are excluded.
func ContentHash(inv *models.Invoice) string {
	body := hashedInvoice{
		InvoiceID:       inv.ID,
		ContractID:      inv.ContractID,
		ContractVersion: inv.ContractVersion,
		Version:         inv.Version,
		Currency:        inv.Currency,
		Lines:           make([]hashedLine, 0, len(inv.Lines)),
		Subtotal:        models.Money(inv.Subtotal()),
		Tax:             models.Money(inv.Tax()),
		Total:           models.Money(inv.Total()),
	}
	for _, l := range inv.Lines {
		clauseID := ""
		if l.SourceClauseID != nil {
			clauseID = *l.SourceClauseID
		}
		events := append([]string{}, l.SourceEventIDs...)
		body.Lines = append(body.Lines, hashedLine{
			Number:                   l.Number,
			Kind:                     l.Kind,
			Description:              l.Description,
			Quantity:                 models.Quantity(l.Quantity),
			Unit:                     l.Unit,
			UnitPrice:                models.Quantity(l.UnitPrice),
			Amount:                   models.Money(l.Amount),
			ClauseID:                 clauseID,
			EventIDs:                 events,
			Confidence:               l.Confidence,
			IsException:              l.IsException,
			ExceptionKind:            l.ExceptionKind,
			RequiresElevatedApproval: l.RequiresElevatedApproval,
			Explanation:              l.Explanation,
		})
	}

	data, err := ledger.Canonical(body)
	if err != nil {
		// body holds only strings, numbers and bools
		panic(fmt.Sprintf("content hash: %v", err))
	}
	return ledger.Sum(data)
}
