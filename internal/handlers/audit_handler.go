package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/services"
)

type AuditHandler struct {
	auditService *services.AuditService
}

func NewAuditHandler(auditService *services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

type CorrectionRequest struct {
	Note string `json:"note"`
}

// @Summary Audit Trail
// @Description Ordered audit entries of the entity's lineage with a verification result
// @Tags Audit
// @Produce json
// @Param entity_id path string true "Invoice, contract or other entity ID"
// @Success 200 {object} services.AuditTrail
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /audit/{entity_id} [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	trail, err := h.auditService.Trail(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}

// @Summary Verify Audit Chain
// @Description Recompute every hash of the entity's lineage and report the first break
// @Tags Audit
// @Produce json
// @Param entity_id path string true "Entity ID"
// @Success 200 {object} ledger.Verification
// @Security BearerAuth
// @Router /audit/{entity_id}/verify [get]
func (h *AuditHandler) Verify(c *gin.Context) {
	v, err := h.auditService.Verify(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// @Summary Export Audit Snapshot
// @Description Download a signed snapshot of the entity's lineage as json, csv, xlsx or pdf
// @Tags Audit
// @Produce octet-stream
// @Param entity_id path string true "Entity ID"
// @Param from query string false "Start (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "End (RFC3339 or YYYY-MM-DD, inclusive)"
// @Param format query string false "json, csv, xlsx or pdf" default(json)
// @Success 200 {file} file
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /audit/{entity_id}/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	verr := &services.ValidationError{Message: "invalid time range"}
	from, err := parseTimeParam(c.Query("from"), false)
	if err != nil {
		verr.Fields = map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"}
	}
	to, err := parseTimeParam(c.Query("to"), true)
	if err != nil {
		if verr.Fields == nil {
			verr.Fields = map[string]string{}
		}
		verr.Fields["to"] = "must be RFC3339 or YYYY-MM-DD"
	}
	if len(verr.Fields) > 0 {
		respondError(c, verr)
		return
	}

	format := strings.ToLower(c.Query("format"))
	export, err := h.auditService.Export(c.Request.Context(), c.Param("entity_id"), from, to, format, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("X-Bundle-Hash", export.Bundle.IntegrityHash)
	c.Header("X-Bundle-Signature", export.Bundle.Signature)
	c.Header("Content-Disposition", "attachment; filename="+export.FileName)
	c.Data(http.StatusOK, export.ContentType, export.Data)
}

// @Summary Correct Audit Entry
// @Description Append a correction that references an earlier entry. The original is never modified.
// @Tags Audit
// @Accept json
// @Produce json
// @Param entry_id path string true "Audit entry ID"
// @Param request body CorrectionRequest true "Correction note"
// @Success 201 {object} models.AuditEntry
// @Security BearerAuth
// @Router /audit_entries/{entry_id}/corrections [post]
func (h *AuditHandler) Correct(c *gin.Context) {
	var req CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	entry, err := h.auditService.Correct(c.Request.Context(), c.Param("entry_id"), strings.TrimSpace(req.Note), middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseTimeParam(v string, endOfDay bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Microsecond)
	}
	return &t, nil
}
