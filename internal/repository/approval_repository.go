package repository

import (
	"context"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// ApprovalRepository defines the interface for approval data access
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.Approval) error
	FindByInvoice(ctx context.Context, invoiceID string) (*models.Approval, error)
}

type approvalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

// Create inserts the approval. The unique index on invoice_id turns a
// second approval of the same invoice into a duplicate key error.
func (r *approvalRepository) Create(ctx context.Context, approval *models.Approval) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

func (r *approvalRepository) FindByInvoice(ctx context.Context, invoiceID string) (*models.Approval, error) {
	var approval models.Approval
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&approval).Error
	if err != nil {
		return nil, err
	}
	return &approval, nil
}
