package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/services"
)

type WorkEventHandler struct {
	workEventService *services.WorkEventService
}

func NewWorkEventHandler(workEventService *services.WorkEventService) *WorkEventHandler {
	return &WorkEventHandler{workEventService: workEventService}
}

type IngestWorkEventsRequest struct {
	Events []services.WorkEventInput `json:"events"`
}

// @Summary Ingest Work Events
// @Description Validate and store a batch of work events. One invalid row rejects the whole batch.
// @Tags Work Events
// @Accept json
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Param request body IngestWorkEventsRequest true "Work event rows"
// @Success 201 {object} services.IngestResult
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts/{contract_id}/work_events [post]
func (h *WorkEventHandler) Create(c *gin.Context) {
	var req IngestWorkEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	result, err := h.workEventService.Ingest(c.Request.Context(), c.Param("contract_id"), req.Events, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// @Summary Import Work Events CSV
// @Description Upload a CSV with header event_id,date,description,units,unit_type,amount,external_ref. The file is kept as evidence.
// @Tags Work Events
// @Accept multipart/form-data
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Param file formData file true "CSV file"
// @Success 201 {object} services.IngestResult
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts/{contract_id}/work_events/import [post]
func (h *WorkEventHandler) Import(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".csv") {
		respondError(c, &services.ValidationError{Message: "invalid file", Fields: map[string]string{"file": "must be a .csv file"}})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer file.Close()

	result, err := h.workEventService.ImportCSV(c.Request.Context(), c.Param("contract_id"), file, fileHeader.Filename, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// @Summary List Work Events
// @Description Work events ingested for a contract
// @Tags Work Events
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Param batch_id query string false "Filter by ingestion batch"
// @Param unit_type query string false "Filter by unit type"
// @Param from query string false "Events on or after (YYYY-MM-DD)"
// @Param to query string false "Events on or before (YYYY-MM-DD)"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts/{contract_id}/work_events [get]
func (h *WorkEventHandler) Index(c *gin.Context) {
	query := listQuery(c)
	for _, key := range []string{"batch_id", "from", "to"} {
		query.Filters[key] = c.Query(key)
	}
	query.Filters["unit_type"] = strings.ToLower(c.Query("unit_type"))

	events, total, err := h.workEventService.List(c.Request.Context(), c.Param("contract_id"), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"work_events": events,
		"pagination":  pagination(query, total),
	})
}
