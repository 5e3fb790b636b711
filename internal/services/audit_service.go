package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

const appendAttempts = 3

// AuditRecord describes one mutating action to be written to the ledger.
type AuditRecord struct {
	LineageID       string
	EntityType      string
	EntityID        string
	Action          string
	Actor           models.Actor
	Payload         any
	Confidence      *float64
	CorrectsEntryID *string
}

// AuditTrail is a lineage's entries together with their verification
type AuditTrail struct {
	LineageID    string              `json:"lineage_id"`
	Entries      []models.AuditEntry `json:"entries"`
	Verification ledger.Verification `json:"verification"`
}

// AuditExport is a rendered, signed snapshot
type AuditExport struct {
	Bundle      *ledger.Bundle
	Data        []byte
	FileName    string
	ContentType string
}

// AuditService owns the hash-chained ledger. Appends are serialized per
// lineage; different lineages append in parallel.
type AuditService struct {
	repo     repository.AuditRepository
	invoices repository.InvoiceRepository
	locks    *lock.Keyed
	signer   ledger.Signer
	storage  *storage.LocalStorage
	exporter *ExportService
	now      func() time.Time
}

// NewAuditService creates the ledger service
func NewAuditService(repo repository.AuditRepository, invoices repository.InvoiceRepository, locks *lock.Keyed, signer ledger.Signer, store *storage.LocalStorage, exporter *ExportService) *AuditService {
	return &AuditService{
		repo:     repo,
		invoices: invoices,
		locks:    locks,
		signer:   signer,
		storage:  store,
		exporter: exporter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func lineageKey(id string) string { return "lineage:" + id }

// Append writes one entry at the end of the record's lineage and returns it.
// A racing writer in another process is detected by the unique
// (lineage, sequence) index and the append is retried on the new tail.
func (s *AuditService) Append(ctx context.Context, rec AuditRecord) (*models.AuditEntry, error) {
	if rec.LineageID == "" || rec.EntityID == "" || rec.Action == "" {
		return nil, fmt.Errorf("audit record is missing lineage, entity or action")
	}
	if rec.Actor.ID == "" || rec.Actor.Type == "" {
		return nil, fmt.Errorf("audit record for %s has no actor", rec.Action)
	}

	payload, err := ledger.Canonical(rec.Payload)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lineageKey(rec.LineageID))
	defer unlock()

	for attempt := 1; ; attempt++ {
		last, err := s.repo.Last(ctx, rec.LineageID)
		if err != nil {
			return nil, fmt.Errorf("read ledger tail: %w", err)
		}

		entry := &models.AuditEntry{
			ID:              models.NewID(),
			LineageID:       rec.LineageID,
			EntityType:      rec.EntityType,
			EntityID:        rec.EntityID,
			Action:          rec.Action,
			ActorID:         rec.Actor.ID,
			ActorType:       rec.Actor.Type,
			Timestamp:       s.now(),
			Payload:         string(payload),
			Confidence:      rec.Confidence,
			CorrectsEntryID: rec.CorrectsEntryID,
		}
		ledger.Seal(entry, last)

		err = s.repo.Append(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !repository.IsDuplicateKey(err) || attempt == appendAttempts {
			return nil, fmt.Errorf("append audit entry: %w", err)
		}
		logger.Warn("audit append raced with another writer, retrying", "lineage_id", rec.LineageID, "attempt", attempt)
	}
}

// AppendAll appends records in order. The mutation they describe has
// already committed, so a failure here is logged loudly and returned.
func (s *AuditService) AppendAll(ctx context.Context, recs ...AuditRecord) error {
	for _, rec := range recs {
		if _, err := s.Append(ctx, rec); err != nil {
			logger.Error("audit append failed after commit", "lineage_id", rec.LineageID, "action", rec.Action, "entity_id", rec.EntityID, "error", err)
			return err
		}
	}
	return nil
}

// Trail returns the ordered entries of the lineage an entity belongs to.
func (s *AuditService) Trail(ctx context.Context, entityID string) (*AuditTrail, error) {
	lineageID, err := s.repo.LineageOf(ctx, entityID)
	if err != nil {
		return nil, translate(err, "audit trail")
	}

	entries, err := s.repo.ListByLineage(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	v := ledger.Verify(lineageID, entries)
	if !v.Valid {
		s.reportIntegrityFailure(ctx, v)
	}
	return &AuditTrail{LineageID: lineageID, Entries: entries, Verification: v}, nil
}

// Verify replays the chain of the lineage an entity belongs to.
func (s *AuditService) Verify(ctx context.Context, entityID string) (*ledger.Verification, error) {
	lineageID, err := s.repo.LineageOf(ctx, entityID)
	if err != nil {
		return nil, translate(err, "verify audit chain")
	}
	v, err := s.VerifyLineage(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VerifyLineage checks one lineage and reports a failure.
func (s *AuditService) VerifyLineage(ctx context.Context, lineageID string) (ledger.Verification, error) {
	unlock := s.locks.Lock(lineageKey(lineageID))
	entries, err := s.repo.ListByLineage(ctx, lineageID)
	unlock()
	if err != nil {
		return ledger.Verification{}, fmt.Errorf("load lineage %s: %w", lineageID, err)
	}

	v := ledger.Verify(lineageID, entries)
	if !v.Valid {
		s.reportIntegrityFailure(ctx, v)
	}
	return v, nil
}

// EnsureIntact is the integrity gate for approval and push: the invoice
// must not be on hold and both its own chain and its contract's chain must
// verify.
func (s *AuditService) EnsureIntact(ctx context.Context, inv *models.Invoice) error {
	if inv.IntegrityHold {
		return &IntegrityError{LineageID: inv.LineageID, Verification: ledger.Verification{LineageID: inv.LineageID, Reason: "integrity hold"}}
	}
	for _, lineageID := range []string{inv.LineageID, inv.ContractID} {
		v, err := s.VerifyLineage(ctx, lineageID)
		if err != nil {
			return err
		}
		if !v.Valid {
			return &IntegrityError{LineageID: lineageID, Verification: v}
		}
	}
	return nil
}

// reportIntegrityFailure logs, alerts and puts every invoice of the
// lineage on hold. Integrity failures are never downgraded to warnings.
func (s *AuditService) reportIntegrityFailure(ctx context.Context, v ledger.Verification) {
	err := &IntegrityError{LineageID: v.LineageID, Verification: v}
	logger.Error("AUDIT INTEGRITY FAILURE",
		"lineage_id", v.LineageID,
		"broken_at", v.BrokenAt,
		"broken_entry_id", v.BrokenEntryID,
		"reason", v.Reason)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("integrity", "broken")
		scope.SetTag("lineage_id", v.LineageID)
		scope.SetLevel(sentry.LevelFatal)
		scope.SetContext("verification", sentry.Context{
			"entries_checked": v.EntriesChecked,
			"broken_entry_id": v.BrokenEntryID,
			"reason":          v.Reason,
		})
		sentry.CaptureException(err)
	})

	held, holdErr := s.invoices.SetIntegrityHold(ctx, v.LineageID, true)
	if holdErr != nil {
		logger.Error("failed to place integrity hold", "lineage_id", v.LineageID, "error", holdErr)
		return
	}
	if held > 0 {
		logger.Error("invoices placed on integrity hold", "lineage_id", v.LineageID, "count", held)
	}
}

// Sweep verifies every lineage and returns the ones that are broken.
func (s *AuditService) Sweep(ctx context.Context) ([]string, error) {
	lineages, err := s.repo.ListLineages(ctx)
	if err != nil {
		return nil, err
	}

	var broken []string
	for _, id := range lineages {
		if err := ctx.Err(); err != nil {
			return broken, err
		}
		v, err := s.VerifyLineage(ctx, id)
		if err != nil {
			return broken, err
		}
		if !v.Valid {
			broken = append(broken, id)
		}
	}
	logger.Info("audit integrity sweep finished", "lineages", len(lineages), "broken", len(broken))
	return broken, nil
}

// Export builds a signed snapshot of the entity's lineage within the time
// range, renders it in the requested format and keeps a copy in storage.
func (s *AuditService) Export(ctx context.Context, entityID string, from, to *time.Time, format string, actor models.Actor) (*AuditExport, error) {
	if format == "" {
		format = FormatJSON
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, &ValidationError{Message: "invalid time range", Fields: map[string]string{"to": "must not be before from"}}
	}
	if !s.exporter.Supports(format) {
		return nil, &ValidationError{Message: "unsupported export format", Fields: map[string]string{"format": format}}
	}

	lineageID, err := s.repo.LineageOf(ctx, entityID)
	if err != nil {
		return nil, translate(err, "export audit snapshot")
	}
	v, err := s.VerifyLineage(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListByLineageBetween(ctx, lineageID, from, to)
	if err != nil {
		return nil, err
	}

	bundle := &ledger.Bundle{
		LineageID:    lineageID,
		From:         from,
		To:           to,
		GeneratedAt:  ledger.Timestamp(s.now()),
		Entries:      entries,
		Verification: v,
	}
	if err := bundle.Seal(s.signer); err != nil {
		return nil, err
	}

	data, fileName, contentType, err := s.exporter.RenderBundle(bundle, format)
	if err != nil {
		return nil, err
	}
	if s.storage != nil {
		path, err := s.storage.UploadFromBytes(data, fileName, "audit_exports")
		if err != nil {
			return nil, err
		}
		bundle.StoragePath = path
	}

	if _, err := s.Append(ctx, AuditRecord{
		LineageID:  lineageID,
		EntityType: models.EntityAudit,
		EntityID:   lineageID,
		Action:     models.ActionExport,
		Actor:      actor,
		Payload: map[string]any{
			"format":         format,
			"entries":        len(entries),
			"integrity_hash": bundle.IntegrityHash,
			"storage_path":   bundle.StoragePath,
			"valid":          v.Valid,
		},
	}); err != nil {
		return nil, err
	}

	return &AuditExport{Bundle: bundle, Data: data, FileName: fileName, ContentType: contentType}, nil
}

// Correct appends an entry that annotates an earlier one. The original
// entry is left untouched.
func (s *AuditService) Correct(ctx context.Context, entryID, note string, actor models.Actor) (*models.AuditEntry, error) {
	if note == "" {
		return nil, &ValidationError{Message: "correction note is required", Fields: map[string]string{"note": "required"}}
	}
	original, err := s.repo.FindByID(ctx, entryID)
	if err != nil {
		return nil, translate(err, "audit entry")
	}

	return s.Append(ctx, AuditRecord{
		LineageID:       original.LineageID,
		EntityType:      original.EntityType,
		EntityID:        original.EntityID,
		Action:          models.ActionCorrection,
		Actor:           actor,
		Payload:         map[string]any{"corrects": original.ID, "note": note},
		CorrectsEntryID: &original.ID,
	})
}

// IsIntegrityError reports whether err is an integrity failure
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
