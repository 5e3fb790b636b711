package handlers

import (
	"errors"
	"net/http"
	"strconv"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/services"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// Handlers holds all handler instances
type Handlers struct {
	Health    *HealthHandler
	Auth      *AuthHandler
	User      *UserHandler
	Contract  *ContractHandler
	WorkEvent *WorkEventHandler
	Invoice   *InvoiceHandler
	Exception *ExceptionHandler
	Audit     *AuditHandler
	Job       *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(),
		Auth:      NewAuthHandler(svcs.Auth),
		User:      NewUserHandler(svcs.User),
		Contract:  NewContractHandler(svcs.Contract),
		WorkEvent: NewWorkEventHandler(svcs.WorkEvent),
		Invoice:   NewInvoiceHandler(svcs.Invoice, svcs.Approval, svcs.Push, svcs.Exception),
		Exception: NewExceptionHandler(svcs.Exception),
		Audit:     NewAuditHandler(svcs.Audit),
		Job:       NewJobHandler(svcs.Job),
	}
}

// respondError maps service errors to HTTP responses. Anything it does not
// recognize is a 500 and is reported to Sentry.
func respondError(c *gin.Context, err error) {
	var (
		verr       *services.ValidationError
		terr       *services.InvalidTransitionError
		nbterr     *services.NoBillingTermsError
		perr       *services.PushError
		integrity  *services.IntegrityError
		statusCode int
		body       gin.H
	)

	switch {
	case errors.As(err, &verr):
		statusCode = http.StatusUnprocessableEntity
		body = gin.H{"error": verr.Message, "code": "VALIDATION_FAILED"}
		if len(verr.Fields) > 0 {
			body["fields"] = verr.Fields
		}
		if len(verr.LineIDs) > 0 {
			body["line_ids"] = verr.LineIDs
		}
		if len(verr.Rows) > 0 {
			body["rows"] = verr.Rows
		}
	case errors.As(err, &terr):
		statusCode = http.StatusConflict
		body = gin.H{"error": terr.Error(), "code": "INVALID_TRANSITION", "status": terr.From, "event": terr.Event}
	case errors.As(err, &nbterr):
		statusCode = http.StatusUnprocessableEntity
		body = gin.H{"error": nbterr.Error(), "code": "NO_BILLING_TERMS"}
	case errors.As(err, &integrity):
		statusCode = http.StatusLocked
		body = gin.H{"error": integrity.Error(), "code": "INTEGRITY_FAILURE", "verification": integrity.Verification}
		logger.Error("integrity failure surfaced to client", "lineage_id", integrity.LineageID, "path", c.FullPath())
		captureError(c, err)
	case errors.As(err, &perr):
		statusCode = http.StatusBadGateway
		code := "PUSH_FAILED"
		if perr.Timeout {
			statusCode = http.StatusGatewayTimeout
			code = "PUSH_TIMEOUT"
		}
		body = gin.H{"error": perr.Error(), "code": code, "attempt": perr.Attempt}
	case errors.Is(err, services.ErrNotFound):
		statusCode = http.StatusNotFound
		body = gin.H{"error": err.Error(), "code": "NOT_FOUND"}
	case errors.Is(err, services.ErrForbidden):
		statusCode = http.StatusForbidden
		body = gin.H{"error": err.Error(), "code": "FORBIDDEN"}
	case errors.Is(err, services.ErrConcurrentModification), errors.Is(err, services.ErrAlreadyResolved):
		statusCode = http.StatusConflict
		body = gin.H{"error": err.Error(), "code": "CONFLICT"}
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInactiveAccount):
		statusCode = http.StatusUnauthorized
		body = gin.H{"error": err.Error(), "code": "UNAUTHORIZED"}
	default:
		statusCode = http.StatusInternalServerError
		body = gin.H{"error": "internal server error", "code": "INTERNAL"}
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		captureError(c, err)
	}

	_ = c.Error(err)
	c.JSON(statusCode, body)
}

func captureError(c *gin.Context, err error) {
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
}

// listQuery reads the pagination parameters shared by every index endpoint
func listQuery(c *gin.Context) *repository.ListQuery {
	query := repository.NewListQuery()
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		query.Page = page
	}
	if perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "20")); err == nil && perPage > 0 {
		if perPage > 100 {
			perPage = 100
		}
		query.PerPage = perPage
	}
	query.Search = c.Query("search_term")
	query.SortBy = c.Query("sort_by")
	query.SortDir = c.Query("sort_dir")
	return query
}

func pagination(query *repository.ListQuery, total int64) gin.H {
	return gin.H{
		"page":        query.Page,
		"per_page":    query.PerPage,
		"total":       total,
		"total_pages": (total + int64(query.PerPage) - 1) / int64(query.PerPage),
	}
}
