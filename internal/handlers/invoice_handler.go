package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/services"
)

type InvoiceHandler struct {
	invoiceService   *services.InvoiceService
	approvalService  *services.ApprovalService
	pushService      *services.PushService
	exceptionService *services.ExceptionService
}

func NewInvoiceHandler(invoiceService *services.InvoiceService, approvalService *services.ApprovalService, pushService *services.PushService, exceptionService *services.ExceptionService) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService:   invoiceService,
		approvalService:  approvalService,
		pushService:      pushService,
		exceptionService: exceptionService,
	}
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

// @Summary Derive Invoice
// @Description Derive a draft invoice from a contract's current clauses and the given work events
// @Tags Invoices
// @Accept json
// @Produce json
// @Param request body services.DeriveRequest true "Contract and work events"
// @Success 201 {object} models.InvoiceResponse
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices [post]
func (h *InvoiceHandler) Derive(c *gin.Context) {
	var req services.DeriveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contract_id and work_event_ids are required"})
		return
	}

	inv, err := h.invoiceService.Derive(c.Request.Context(), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": inv.ToResponse()})
}

// @Summary List Invoices
// @Description Get a paginated list of invoices
// @Tags Invoices
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param status query string false "Filter by status"
// @Param contract_id query string false "Filter by contract"
// @Param lineage_id query string false "Filter by derivation lineage"
// @Param integrity_hold query bool false "Only invoices on integrity hold"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices [get]
func (h *InvoiceHandler) Index(c *gin.Context) {
	query := listQuery(c)
	for _, key := range []string{"status", "contract_id", "lineage_id", "integrity_hold"} {
		query.Filters[key] = c.Query(key)
	}

	invoices, total, err := h.invoiceService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.InvoiceResponse, 0, len(invoices))
	for i := range invoices {
		responses = append(responses, invoices[i].ToResponse())
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices":   responses,
		"pagination": pagination(query, total),
	})
}

// @Summary Get Invoice
// @Description Get an invoice with its lines, computed totals and explainability summary
// @Tags Invoices
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Success 200 {object} models.InvoiceResponse
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /invoices/{invoice_id} [get]
func (h *InvoiceHandler) Show(c *gin.Context) {
	inv, err := h.invoiceService.Get(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv.ToResponse()})
}

// @Summary Re-derive Invoice
// @Description Derive a new version from the same events and the contract's current clauses. The previous version is superseded.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Param request body ReasonRequest true "Reason"
// @Success 201 {object} models.InvoiceResponse
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/rederive [post]
func (h *InvoiceHandler) Rederive(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	inv, err := h.invoiceService.Rederive(c.Request.Context(), c.Param("invoice_id"), req.Reason, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": inv.ToResponse()})
}

// @Summary Review Line
// @Description Mark one invoice line as reviewed by the current user
// @Tags Invoices
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Param line_id path string true "Line ID"
// @Success 200 {object} models.InvoiceLine
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/lines/{line_id}/review [post]
func (h *InvoiceHandler) ReviewLine(c *gin.Context) {
	line, err := h.invoiceService.ReviewLine(c.Request.Context(), c.Param("invoice_id"), c.Param("line_id"), middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"line": line})
}

// @Summary Approve Invoice
// @Description Grant the human approval. Requires every line reviewed, no open exceptions and explicit confirmation.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Param request body services.ApprovalRequest true "Approval"
// @Success 200 {object} models.Approval
// @Failure 409 {object} map[string]interface{}
// @Failure 423 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/approve [post]
func (h *InvoiceHandler) Approve(c *gin.Context) {
	var req services.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	approval, err := h.approvalService.Approve(c.Request.Context(), c.Param("invoice_id"), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approval": approval})
}

// @Summary Verify Approval
// @Description Compare the content hash bound at approval with the invoice as stored now
// @Tags Invoices
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Success 200 {object} services.ApprovalVerification
// @Security BearerAuth
// @Router /invoices/{invoice_id}/approval/verify [get]
func (h *InvoiceHandler) VerifyApproval(c *gin.Context) {
	v, err := h.approvalService.VerifyApproval(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Reject Invoice
// @Description Reject a draft, exception or pending_review invoice. Rejection is terminal.
// @Tags Invoices
// @Accept json
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Param request body ReasonRequest true "Reason"
// @Success 200 {object} models.InvoiceResponse
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/reject [post]
func (h *InvoiceHandler) Reject(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	inv, err := h.invoiceService.Reject(c.Request.Context(), c.Param("invoice_id"), req.Reason, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv.ToResponse()})
}

// @Summary Push Invoice
// @Description Send an approved invoice to the Export Gate. Failures leave it approved for retry.
// @Tags Invoices
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Success 200 {object} services.PushResult
// @Failure 409 {object} map[string]interface{}
// @Failure 502 {object} map[string]interface{}
// @Failure 504 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/push [post]
func (h *InvoiceHandler) Push(c *gin.Context) {
	result, err := h.pushService.Push(c.Request.Context(), c.Param("invoice_id"), middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary List Invoice Exceptions
// @Description Every exception raised on the invoice, pending and resolved
// @Tags Invoices
// @Produce json
// @Param invoice_id path string true "Invoice ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /invoices/{invoice_id}/exceptions [get]
func (h *InvoiceHandler) Exceptions(c *gin.Context) {
	exceptions, err := h.exceptionService.ListByInvoice(c.Request.Context(), c.Param("invoice_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exceptions": exceptions})
}
