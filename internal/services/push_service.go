package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/exportgate"
	"github.com/sjperalta/fintera-invoicing/internal/jobs"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/policy"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/statemachine"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// PushResult is the accounting system's reference for a pushed invoice
type PushResult struct {
	InvoiceID   string    `json:"invoice_id"`
	ExternalRef string    `json:"external_ref"`
	Attempt     int       `json:"attempt"`
	PushedAt    time.Time `json:"pushed_at"`
}

// PushOptions bounds gate calls and the retry job
type PushOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Concurrency int
}

// PushOptionsFromConfig reads the push settings from cfg
func PushOptionsFromConfig(cfg *config.Config) PushOptions {
	return PushOptions{
		Timeout:     cfg.PushTimeout,
		MaxAttempts: cfg.PushMaxAttempts,
		BaseBackoff: cfg.PushRetryBaseBackoff,
		MaxBackoff:  cfg.PushRetryMaxBackoff,
		Concurrency: cfg.PushRetryConcurrency,
	}
}

// PushService sends approved invoices through the Export Gate
type PushService struct {
	repos  *repository.Repositories
	gate   exportgate.Gate
	locks  *lock.Keyed
	audit  *AuditService
	email  *EmailService
	worker *jobs.Worker
	policy *policy.Policy
	opts   PushOptions
	now    func() time.Time
}

// NewPushService creates a new push service
func NewPushService(repos *repository.Repositories, gate exportgate.Gate, locks *lock.Keyed, audit *AuditService, email *EmailService, worker *jobs.Worker, p *policy.Policy, opts PushOptions) *PushService {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &PushService{
		repos:  repos,
		gate:   gate,
		locks:  locks,
		audit:  audit,
		email:  email,
		worker: worker,
		policy: p,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Push sends one approved invoice to the accounting system. The status only
// changes after the gate acknowledges; a failure or timeout leaves the
// invoice approved with the attempt recorded.
func (s *PushService) Push(ctx context.Context, invoiceID string, actor models.Actor) (*PushResult, error) {
	if !actor.IsSystem() && !actor.HasRole(models.RoleController, models.RoleCFO, models.RoleAdmin) {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(invoiceKey(invoiceID))
	defer unlock()

	inv, err := s.repos.Invoice.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err, "invoice")
	}
	m := statemachine.NewInvoiceFSM(inv)
	if err := m.Check(statemachine.EventPush); err != nil {
		return nil, err
	}
	if err := s.audit.EnsureIntact(ctx, inv); err != nil {
		return nil, err
	}
	approval, err := s.repos.Approval.FindByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, translate(err, "approval")
	}
	hash := ContentHash(inv)
	if hash != approval.ContentHash {
		v := ledger.Verification{LineageID: inv.LineageID, Reason: "invoice content no longer matches its approval"}
		s.audit.reportIntegrityFailure(ctx, v)
		return nil, &IntegrityError{LineageID: inv.LineageID, Verification: v}
	}

	attempt := inv.PushAttempts + 1
	payload := gatePayload(inv, approval, hash)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	receipt, gateErr := s.gate.Push(callCtx, inv.ID+":"+hash, payload)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	// The gate has been called; the attempt is recorded even if the caller
	// went away meanwhile.
	ctx = context.WithoutCancel(ctx)
	now := s.now()
	if gateErr != nil {
		return nil, s.recordFailure(ctx, inv, attempt, timedOut, gateErr, now, actor)
	}

	err = s.repos.Invoice.UpdateStatus(ctx, inv.ID, models.InvoiceStatusApproved, models.InvoiceStatusPushed, map[string]any{
		"external_ref":         receipt.ExternalRef,
		"pushed_at":            now,
		"push_attempts":        attempt,
		"last_push_attempt_at": now,
		"last_push_error":      nil,
	})
	if err != nil {
		logger.Error("gate accepted invoice but status update failed", "invoice_id", inv.ID, "external_ref", receipt.ExternalRef, "error", err)
		return nil, translate(err, "mark invoice pushed")
	}
	if err := m.Push(ctx); err != nil {
		return nil, err
	}

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     models.ActionPush,
		Actor:      actor,
		Payload: map[string]any{
			"external_ref": receipt.ExternalRef,
			"attempt":      attempt,
			"content_hash": hash,
			"approval_id":  approval.ID,
		},
	}); err != nil {
		return nil, err
	}

	logger.Info("invoice pushed", "invoice_id", inv.ID, "external_ref", receipt.ExternalRef, "attempt", attempt)
	return &PushResult{InvoiceID: inv.ID, ExternalRef: receipt.ExternalRef, Attempt: attempt, PushedAt: now}, nil
}

func (s *PushService) recordFailure(ctx context.Context, inv *models.Invoice, attempt int, timedOut bool, gateErr error, at time.Time, actor models.Actor) error {
	pushErr := &PushError{InvoiceID: inv.ID, Attempt: attempt, Timeout: timedOut, Err: gateErr}
	logger.Warn("invoice push failed", "invoice_id", inv.ID, "attempt", attempt, "timeout", timedOut, "error", gateErr)

	if err := s.repos.Invoice.RecordPushFailure(ctx, inv.ID, attempt, gateErr.Error(), at); err != nil {
		return translate(err, "record push failure")
	}
	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  inv.LineageID,
		EntityType: models.EntityInvoice,
		EntityID:   inv.ID,
		Action:     models.ActionPushFailed,
		Actor:      actor,
		Payload: map[string]any{
			"attempt": attempt,
			"timeout": timedOut,
			"error":   gateErr.Error(),
		},
	}); err != nil {
		return err
	}

	if s.email != nil && s.worker != nil && s.policy != nil && attempt >= s.opts.MaxAttempts {
		to := s.policy.Reviewers.Controller.Email
		s.worker.EnqueueAsync(func(ctx context.Context) error {
			return s.email.SendPushFailed(ctx, to, inv, attempt, gateErr.Error())
		})
	}
	return pushErr
}

// Backoff is the wait after the given number of failed attempts:
// base * 2^(attempts-1), capped at max.
func (o PushOptions) Backoff(attempts int) time.Duration {
	if attempts < 1 || o.BaseBackoff <= 0 {
		return 0
	}
	d := o.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if o.MaxBackoff > 0 && d >= o.MaxBackoff {
			return o.MaxBackoff
		}
	}
	if o.MaxBackoff > 0 && d > o.MaxBackoff {
		return o.MaxBackoff
	}
	return d
}

// RetryFailed re-pushes approved invoices whose previous attempt failed and
// whose backoff has elapsed. Invoices are pushed concurrently, bounded by
// the configured concurrency. It returns the number of invoices pushed.
func (s *PushService) RetryFailed(ctx context.Context) (int, error) {
	candidates, err := s.repos.Invoice.FindPushRetryable(ctx, s.opts.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("find retryable invoices: %w", err)
	}

	now := s.now()
	var due []string
	for _, inv := range candidates {
		if inv.LastPushAttemptAt != nil && now.Before(inv.LastPushAttemptAt.Add(s.opts.Backoff(inv.PushAttempts))) {
			continue
		}
		due = append(due, inv.ID)
	}
	if len(due) == 0 {
		return 0, nil
	}

	actor := models.SystemActor("push-retry")
	results := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, id := range due {
		i, id := i, id
		g.Go(func() error {
			if _, err := s.Push(gctx, id, actor); err != nil {
				var pushErr *PushError
				var transition *InvalidTransitionError
				switch {
				case errors.As(err, &pushErr), errors.As(err, &transition):
					return nil
				case IsIntegrityError(err):
					logger.Error("push retry halted by integrity failure", "invoice_id", id, "error", err)
					return nil
				default:
					return fmt.Errorf("retry push %s: %w", id, err)
				}
			}
			results[i] = true
			return nil
		})
	}
	err = g.Wait()

	pushed := 0
	for _, ok := range results {
		if ok {
			pushed++
		}
	}
	logger.Info("push retry finished", "due", len(due), "pushed", pushed)
	return pushed, err
}

func gatePayload(inv *models.Invoice, approval *models.Approval, hash string) *exportgate.InvoicePayload {
	lines := make([]exportgate.LinePayload, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, exportgate.LinePayload{
			Number:      l.Number,
			Kind:        l.Kind,
			Description: l.Description,
			Quantity:    models.Quantity(l.Quantity),
			Unit:        l.Unit,
			UnitPrice:   models.Quantity(l.UnitPrice),
			Amount:      models.Money(l.Amount),
		})
	}
	return &exportgate.InvoicePayload{
		InvoiceID:   inv.ID,
		ApprovalID:  approval.ID,
		ContentHash: hash,
		ContractID:  inv.ContractID,
		Currency:    inv.Currency,
		InvoiceDate: inv.InvoiceDate.Format("2006-01-02"),
		DueDate:     inv.DueDate.Format("2006-01-02"),
		Lines:       lines,
		Subtotal:    models.Money(inv.Subtotal()),
		Tax:         models.Money(inv.Tax()),
		Total:       models.Money(inv.Total()),
		Memo:        fmt.Sprintf("Contract %s v%d, invoice version %d", inv.ContractID, inv.ContractVersion, inv.Version),
		ApprovedBy:  approval.ApproverEmail,
	}
}
