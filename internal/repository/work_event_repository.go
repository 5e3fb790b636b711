package repository

import (
	"context"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// WorkEventRepository defines the interface for work event data access.
// Events are append-only, so there is no update or delete.
type WorkEventRepository interface {
	CreateBatch(ctx context.Context, events []models.WorkEvent) error
	FindByIDs(ctx context.Context, ids []string) ([]models.WorkEvent, error)
	ListByContract(ctx context.Context, contractID string, query *ListQuery) ([]models.WorkEvent, int64, error)
}

type workEventRepository struct {
	db *gorm.DB
}

// NewWorkEventRepository creates a new work event repository
func NewWorkEventRepository(db *gorm.DB) WorkEventRepository {
	return &workEventRepository{db: db}
}

func (r *workEventRepository) CreateBatch(ctx context.Context, events []models.WorkEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&events, 200).Error
}

func (r *workEventRepository) FindByIDs(ctx context.Context, ids []string) ([]models.WorkEvent, error) {
	var events []models.WorkEvent
	if len(ids) == 0 {
		return events, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("date ASC, external_id ASC, id ASC").
		Find(&events).Error
	return events, err
}

func (r *workEventRepository) ListByContract(ctx context.Context, contractID string, query *ListQuery) ([]models.WorkEvent, int64, error) {
	var events []models.WorkEvent
	var total int64

	db := r.db.WithContext(ctx).Model(&models.WorkEvent{}).Where("contract_id = ?", contractID)

	if query.Filters["batch_id"] != "" {
		db = db.Where("batch_id = ?", query.Filters["batch_id"])
	}
	if query.Filters["unit_type"] != "" {
		db = db.Where("unit_type = ?", query.Filters["unit_type"])
	}
	if query.Filters["from"] != "" {
		db = db.Where("date >= ?", query.Filters["from"])
	}
	if query.Filters["to"] != "" {
		db = db.Where("date <= ?", query.Filters["to"])
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = query.order(db, map[string]bool{"date": true, "ingested_at": true}, "date ASC, external_id ASC")
	err := query.paginate(db).Find(&events).Error
	return events, total, err
}
