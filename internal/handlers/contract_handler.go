package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-invoicing/internal/middleware"
	"github.com/sjperalta/fintera-invoicing/internal/services"
)

type ContractHandler struct {
	contractService *services.ContractService
}

func NewContractHandler(contractService *services.ContractService) *ContractHandler {
	return &ContractHandler{contractService: contractService}
}

// @Summary List Contracts
// @Description Get a paginated list of ingested contracts
// @Tags Contracts
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param per_page query int false "Items per page" default(20)
// @Param search_term query string false "Search by reference or customer"
// @Param currency query string false "Filter by currency"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts [get]
func (h *ContractHandler) Index(c *gin.Context) {
	query := listQuery(c)
	query.Filters["currency"] = strings.ToUpper(c.Query("currency"))

	contracts, total, err := h.contractService.List(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts":  contracts,
		"pagination": pagination(query, total),
	})
}

// @Summary Get Contract
// @Description Get a contract with its current clause set
// @Tags Contracts
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Success 200 {object} models.Contract
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /contracts/{contract_id} [get]
func (h *ContractHandler) Show(c *gin.Context) {
	contract, err := h.contractService.Get(c.Request.Context(), c.Param("contract_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// @Summary Ingest Contract
// @Description Store a parsed contract and its clauses with extraction confidences. Accepts {"contract": {...}} or the flat object.
// @Tags Contracts
// @Accept json
// @Produce json
// @Param contract body services.IngestContractRequest true "Parsed contract"
// @Success 201 {object} models.Contract
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts [post]
func (h *ContractHandler) Create(c *gin.Context) {
	var req services.IngestContractRequest
	if err := BindNestedOrFlat(c, "contract", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	contract, err := h.contractService.Ingest(c.Request.Context(), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// @Summary Revise Clauses
// @Description Replace the clause set with a new contract version. Earlier versions stay readable.
// @Tags Contracts
// @Accept json
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Param request body services.ReviseClausesRequest true "New clause set and reason"
// @Success 200 {object} models.Contract
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts/{contract_id}/clauses [put]
func (h *ContractHandler) ReviseClauses(c *gin.Context) {
	var req services.ReviseClausesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	contract, err := h.contractService.ReviseClauses(c.Request.Context(), c.Param("contract_id"), req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// @Summary Clause History
// @Description Every clause version ever ingested for the contract
// @Tags Contracts
// @Produce json
// @Param contract_id path string true "Contract ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /contracts/{contract_id}/clauses/history [get]
func (h *ContractHandler) ClauseHistory(c *gin.Context) {
	clauses, err := h.contractService.ClauseHistory(c.Request.Context(), c.Param("contract_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clauses": clauses})
}
