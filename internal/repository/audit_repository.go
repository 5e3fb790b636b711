package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"gorm.io/gorm"
)

// AuditRepository is append-only: it can insert and read entries but
// exposes no way to change or remove them.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	Last(ctx context.Context, lineageID string) (*models.AuditEntry, error)
	ListByLineage(ctx context.Context, lineageID string) ([]models.AuditEntry, error)
	ListByLineageBetween(ctx context.Context, lineageID string, from, to *time.Time) ([]models.AuditEntry, error)
	FindByID(ctx context.Context, id string) (*models.AuditEntry, error)
	LineageOf(ctx context.Context, entityID string) (string, error)
	ListLineages(ctx context.Context) ([]string, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// Last returns the newest entry of a lineage, or nil when the lineage is empty
func (r *auditRepository) Last(ctx context.Context, lineageID string) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("lineage_id = ?", lineageID).
		Order("sequence DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByLineage returns the full chain in sequence order
func (r *auditRepository) ListByLineage(ctx context.Context, lineageID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("lineage_id = ?", lineageID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}

// ListByLineageBetween returns the entries whose timestamp falls in the
// inclusive range. A nil bound is open.
func (r *auditRepository) ListByLineageBetween(ctx context.Context, lineageID string, from, to *time.Time) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	db := r.db.WithContext(ctx).Where("lineage_id = ?", lineageID)
	if from != nil {
		db = db.Where("timestamp >= ?", from.UTC())
	}
	if to != nil {
		db = db.Where("timestamp <= ?", to.UTC())
	}
	err := db.Order("sequence ASC").Find(&entries).Error
	return entries, err
}

func (r *auditRepository) FindByID(ctx context.Context, id string) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// LineageOf resolves any entity id (invoice, line, exception, event) to the
// lineage its entries live in. An id that is itself a lineage resolves to
// itself.
func (r *auditRepository) LineageOf(ctx context.Context, entityID string) (string, error) {
	var entry models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("lineage_id = ?", entityID).
		Select("lineage_id").
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return "", err
	}
	if entry.LineageID != "" {
		return entry.LineageID, nil
	}

	err = r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Select("lineage_id").
		Order("timestamp ASC").
		First(&entry).Error
	if err != nil {
		return "", err
	}
	return entry.LineageID, nil
}

func (r *auditRepository) ListLineages(ctx context.Context) ([]string, error) {
	var lineages []string
	err := r.db.WithContext(ctx).Model(&models.AuditEntry{}).
		Distinct("lineage_id").
		Order("lineage_id ASC").
		Pluck("lineage_id", &lineages).Error
	return lineages, err
}
