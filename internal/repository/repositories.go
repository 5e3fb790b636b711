package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	db *gorm.DB

	User      UserRepository
	Contract  ContractRepository
	WorkEvent WorkEventRepository
	Invoice   InvoiceRepository
	Exception ExceptionRepository
	Approval  ApprovalRepository
	Audit     AuditRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:        db,
		User:      NewUserRepository(db),
		Contract:  NewContractRepository(db),
		WorkEvent: NewWorkEventRepository(db),
		Invoice:   NewInvoiceRepository(db),
		Exception: NewExceptionRepository(db),
		Approval:  NewApprovalRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single database
// transaction. The transaction commits when fn returns nil.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// ErrConflict is returned when a conditional write matched no row because
// the row changed underneath the caller.
var ErrConflict = errors.New("row was modified concurrently")

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// ListQuery represents common query parameters
type ListQuery struct {
	Page    int
	PerPage int
	Search  string
	SortBy  string
	SortDir string
	Filters map[string]string
}

// NewListQuery creates a ListQuery with defaults
func NewListQuery() *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: 20,
		Filters: make(map[string]string),
	}
}

func (q *ListQuery) paginate(db *gorm.DB) *gorm.DB {
	if q.PerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		db = db.Offset((page - 1) * q.PerPage).Limit(q.PerPage)
	}
	return db
}

// order applies SortBy when it names one of the allowed columns.
func (q *ListQuery) order(db *gorm.DB, allowed map[string]bool, fallback string) *gorm.DB {
	if q.SortBy != "" && allowed[q.SortBy] {
		order := q.SortBy
		if q.SortDir == "desc" {
			order += " DESC"
		}
		return db.Order(order)
	}
	return db.Order(fallback)
}
