package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// InvoiceRepository defines the interface for invoice data access
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	List(ctx context.Context, query *ListQuery) ([]models.Invoice, int64, error)
	UpdateStatus(ctx context.Context, id, from, to string, fields map[string]any) error
	MarkLineReviewed(ctx context.Context, invoiceID, lineID, reviewerID string, at time.Time) error
	RecordPushFailure(ctx context.Context, id string, attempt int, message string, at time.Time) error
	SetIntegrityHold(ctx context.Context, lineageID string, hold bool) (int64, error)
	FindPushRetryable(ctx context.Context, maxAttempts int) ([]models.Invoice, error)
}

type invoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

// Create inserts the invoice and then its lines. Callers wrap it in a
// transaction so the two are written together.
func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Lines").Create(invoice).Error; err != nil {
		return err
	}
	for i := range invoice.Lines {
		invoice.Lines[i].InvoiceID = invoice.ID
	}
	if len(invoice.Lines) == 0 {
		return nil
	}
	return db.Create(&invoice.Lines).Error
}

// FindByID loads an invoice with its lines in order
func (r *invoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) List(ctx context.Context, query *ListQuery) ([]models.Invoice, int64, error) {
	var invoices []models.Invoice
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Invoice{})

	if query.Filters["status"] != "" {
		db = db.Where("status = ?", query.Filters["status"])
	}
	if query.Filters["contract_id"] != "" {
		db = db.Where("contract_id = ?", query.Filters["contract_id"])
	}
	if query.Filters["lineage_id"] != "" {
		db = db.Where("lineage_id = ?", query.Filters["lineage_id"])
	}
	if query.Filters["integrity_hold"] == "true" {
		db = db.Where("integrity_hold = ?", true)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = query.order(db, map[string]bool{"created_at": true, "invoice_date": true, "aggregate_confidence": true}, "created_at DESC")
	err := query.paginate(db).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Find(&invoices).Error
	return invoices, total, err
}

// UpdateStatus moves an invoice from one status to another only if it is
// still in the expected status. Extra columns are written in the same
// statement. ErrConflict means another writer got there first.
func (r *invoiceRepository) UpdateStatus(ctx context.Context, id, from, to string, fields map[string]any) error {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *invoiceRepository) MarkLineReviewed(ctx context.Context, invoiceID, lineID, reviewerID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.InvoiceLine{}).
		Where("id = ? AND invoice_id = ?", lineID, invoiceID).
		Updates(map[string]any{"reviewed_by": reviewerID, "reviewed_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordPushFailure stores a failed push attempt. The write is conditional
// on the invoice still being approved.
func (r *invoiceRepository) RecordPushFailure(ctx context.Context, id string, attempt int, message string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusApproved).
		Updates(map[string]any{
			"push_attempts":        attempt,
			"last_push_attempt_at": at,
			"last_push_error":      message,
			"updated_at":           at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SetIntegrityHold flags every invoice of a lineage. A contract lineage
// holds all invoices derived from the contract.
func (r *invoiceRepository) SetIntegrityHold(ctx context.Context, lineageID string, hold bool) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("lineage_id = ? OR contract_id = ?", lineageID, lineageID).
		Update("integrity_hold", hold)
	return result.RowsAffected, result.Error
}

// FindPushRetryable returns approved invoices that failed to push and
// still have attempts left.
func (r *invoiceRepository) FindPushRetryable(ctx context.Context, maxAttempts int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND push_attempts > 0 AND push_attempts < ? AND integrity_hold = ?",
			models.InvoiceStatusApproved, maxAttempts, false).
		Order("last_push_attempt_at ASC").
		Find(&invoices).Error
	return invoices, err
}
