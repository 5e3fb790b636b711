package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// ExceptionRepository defines the interface for exception data access
type ExceptionRepository interface {
	CreateBatch(ctx context.Context, exceptions []models.Exception) error
	FindByID(ctx context.Context, id string) (*models.Exception, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.Exception, error)
	ListPending(ctx context.Context, query *ListQuery) ([]models.Exception, int64, error)
	CountPending(ctx context.Context, invoiceID string) (int64, error)
	Resolve(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error
	Assign(ctx context.Context, id, reviewer, role string) error
	AddComment(ctx context.Context, comment *models.ExceptionComment) error
}

type exceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new exception repository
func NewExceptionRepository(db *gorm.DB) ExceptionRepository {
	return &exceptionRepository{db: db}
}

func (r *exceptionRepository) CreateBatch(ctx context.Context, exceptions []models.Exception) error {
	if len(exceptions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&exceptions).Error
}

func (r *exceptionRepository) FindByID(ctx context.Context, id string) (*models.Exception, error) {
	var exception models.Exception
	err := r.db.WithContext(ctx).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&exception).Error
	if err != nil {
		return nil, err
	}
	return &exception, nil
}

func (r *exceptionRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]models.Exception, error) {
	var exceptions []models.Exception
	err := r.db.WithContext(ctx).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&exceptions).Error
	return exceptions, err
}

// ListPending is the reviewer work queue, optionally filtered by assignee or role
func (r *exceptionRepository) ListPending(ctx context.Context, query *ListQuery) ([]models.Exception, int64, error) {
	var exceptions []models.Exception
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Exception{}).Where("status = ?", models.ExceptionStatusPending)
	if query.Filters["assigned_reviewer"] != "" {
		db = db.Where("LOWER(assigned_reviewer) = LOWER(?)", query.Filters["assigned_reviewer"])
	}
	if query.Filters["assigned_role"] != "" {
		db = db.Where("assigned_role = ?", query.Filters["assigned_role"])
	}
	if query.Filters["kind"] != "" {
		db = db.Where("kind = ?", query.Filters["kind"])
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.paginate(db.Order("created_at ASC")).Find(&exceptions).Error
	return exceptions, total, err
}

func (r *exceptionRepository) CountPending(ctx context.Context, invoiceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Exception{}).
		Where("invoice_id = ? AND status = ?", invoiceID, models.ExceptionStatusPending).
		Count(&count).Error
	return count, err
}

// Resolve closes a pending exception. ErrConflict means it was already resolved.
func (r *exceptionRepository) Resolve(ctx context.Context, id, resolution, resolvedBy string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Exception{}).
		Where("id = ? AND status = ?", id, models.ExceptionStatusPending).
		Updates(map[string]any{
			"status":      models.ExceptionStatusResolved,
			"resolution":  resolution,
			"resolved_by": resolvedBy,
			"resolved_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *exceptionRepository) Assign(ctx context.Context, id, reviewer, role string) error {
	result := r.db.WithContext(ctx).Model(&models.Exception{}).
		Where("id = ? AND status = ?", id, models.ExceptionStatusPending).
		Updates(map[string]any{
			"assigned_reviewer": reviewer,
			"assigned_role":     role,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *exceptionRepository) AddComment(ctx context.Context, comment *models.ExceptionComment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}
