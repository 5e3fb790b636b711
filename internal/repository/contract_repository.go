package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// ContractRepository defines the interface for contract and clause data access
type ContractRepository interface {
	Create(ctx context.Context, contract *models.Contract) error
	FindByID(ctx context.Context, id string) (*models.Contract, error)
	CurrentClauses(ctx context.Context, contractID string) ([]models.Clause, error)
	ClauseHistory(ctx context.Context, contractID string) ([]models.Clause, error)
	Revise(ctx context.Context, contract *models.Contract, clauses []models.Clause, at time.Time) error
	List(ctx context.Context, query *ListQuery) ([]models.Contract, int64, error)
}

type contractRepository struct {
	db *gorm.DB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *gorm.DB) ContractRepository {
	return &contractRepository{db: db}
}

// Create inserts the contract and its initial clause set
func (r *contractRepository) Create(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

// FindByID loads a contract with its current clause set
func (r *contractRepository) FindByID(ctx context.Context, id string) (*models.Contract, error) {
	var contract models.Contract
	err := r.db.WithContext(ctx).
		Preload("Clauses", func(db *gorm.DB) *gorm.DB {
			return db.Where("superseded_at IS NULL").Order("sequence ASC")
		}).
		Where("id = ?", id).
		First(&contract).Error
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *contractRepository) CurrentClauses(ctx context.Context, contractID string) ([]models.Clause, error) {
	var clauses []models.Clause
	err := r.db.WithContext(ctx).
		Where("contract_id = ? AND superseded_at IS NULL", contractID).
		Order("sequence ASC").
		Find(&clauses).Error
	return clauses, err
}

// ClauseHistory returns every clause the contract ever had, oldest version first
func (r *contractRepository) ClauseHistory(ctx context.Context, contractID string) ([]models.Clause, error) {
	var clauses []models.Clause
	err := r.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("contract_version ASC, sequence ASC").
		Find(&clauses).Error
	return clauses, err
}

// Revise supersedes the current clause set and inserts the new one under
// the next contract version. The version bump is conditional on the
// version the caller read, so two concurrent revisions cannot both win.
func (r *contractRepository) Revise(ctx context.Context, contract *models.Contract, clauses []models.Clause, at time.Time) error {
	db := r.db.WithContext(ctx)
	next := contract.Version + 1

	result := db.Model(&models.Contract{}).
		Where("id = ? AND version = ?", contract.ID, contract.Version).
		Updates(map[string]any{"version": next, "updated_at": at})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}

	if err := db.Model(&models.Clause{}).
		Where("contract_id = ? AND superseded_at IS NULL", contract.ID).
		Update("superseded_at", at).Error; err != nil {
		return err
	}

	for i := range clauses {
		clauses[i].ContractID = contract.ID
		clauses[i].ContractVersion = next
	}
	if len(clauses) > 0 {
		if err := db.Create(&clauses).Error; err != nil {
			return err
		}
	}

	contract.Version = next
	contract.Clauses = clauses
	return nil
}

func (r *contractRepository) List(ctx context.Context, query *ListQuery) ([]models.Contract, int64, error) {
	var contracts []models.Contract
	var total int64

	db := r.db.WithContext(ctx).Model(&models.Contract{})

	if query.Search != "" {
		search := "%" + query.Search + "%"
		db = db.Where("LOWER(reference) LIKE LOWER(?) OR LOWER(customer_name) LIKE LOWER(?)", search, search)
	}
	if query.Filters["currency"] != "" {
		db = db.Where("currency = ?", query.Filters["currency"])
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = query.order(db, map[string]bool{"created_at": true, "reference": true, "customer_name": true}, "created_at DESC")
	err := query.paginate(db).Find(&contracts).Error
	return contracts, total, err
}
