package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/services"
)

type ExceptionHandler struct {
	exceptionService *services.ExceptionService
}

func NewExceptionHandler(exceptionService *services.ExceptionService) *ExceptionHandler {
	return &ExceptionHandler{exceptionService: exceptionService}
}

type CommentRequest struct {
	Body string `json:"body"`
}

// @Summary Exception Queue
// @Description Pending exceptions across invoices. mine=1 limits the queue to the current user.
// @Tags Exceptions
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param kind query string false "Filter by kind"
// @Param assigned_role query string false "Filter by assigned role"
// @Param assigned_reviewer query string false "Filter by reviewer email"
// @Param mine query string false "1 for the current user's queue"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /exceptions [get]
func (h *ExceptionHandler) Index(c *gin.Context) {
	query := listQuery(c)
	query.Filters["kind"] = strings.ToLower(c.Query("kind"))
	query.Filters["assigned_role"] = strings.ToLower(c.Query("assigned_role"))
	query.Filters["assigned_reviewer"] = c.Query("assigned_reviewer")
	if c.Query("mine") == "1" {
		query.Filters["assigned_reviewer"] = middleware.GetActor(c).Email
	}

	exceptions, total, err := h.exceptionService.ListPending(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exceptions": exceptions,
		"pagination": pagination(query, total),
	})
}

// @Summary Get Exception
// @Description Get an exception with its comment thread
// @Tags Exceptions
// @Produce json
// @Param exception_id path string true "Exception ID"
// @Success 200 {object} models.Exception
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /exceptions/{exception_id} [get]
func (h *ExceptionHandler) Show(c *gin.Context) {
	exc, err := h.exceptionService.Get(c.Request.Context(), c.Param("exception_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": exc})
}

// @Summary Resolve Exception
// @Description Close an exception with a note. Resolving the last one moves the invoice to pending_review.
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param exception_id path string true "Exception ID"
// @Param request body services.Resolution true "Resolution"
// @Success 200 {object} services.ResolveResult
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /exceptions/{exception_id}/resolve [post]
func (h *ExceptionHandler) Resolve(c *gin.Context) {
	var req services.Resolution
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.exceptionService.Resolve(c.Request.Context(), c.Param("exception_id"), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"exception": result.Exception, "invoice": result.Invoice.ToResponse()}
	if result.Rederived != nil {
		body["rederived"] = result.Rederived.ToResponse()
	}
	c.JSON(http.StatusOK, body)
}

// @Summary Comment on Exception
// @Description Add a message to the exception's discussion thread
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param exception_id path string true "Exception ID"
// @Param request body CommentRequest true "Comment"
// @Success 201 {object} models.ExceptionComment
// @Security BearerAuth
// @Router /exceptions/{exception_id}/comments [post]
func (h *ExceptionHandler) Comment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	comment, err := h.exceptionService.Comment(c.Request.Context(), c.Param("exception_id"), req.Body, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// @Summary Assign Exception
// @Description Hand a pending exception to another controller or CFO
// @Tags Exceptions
// @Accept json
// @Produce json
// @Param exception_id path string true "Exception ID"
// @Param request body services.AssignRequest true "Assignee"
// @Success 200 {object} models.Exception
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /exceptions/{exception_id}/assign [put]
func (h *ExceptionHandler) Assign(c *gin.Context) {
	var req services.AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	exc, err := h.exceptionService.Assign(c.Request.Context(), c.Param("exception_id"), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exception": exc})
}
