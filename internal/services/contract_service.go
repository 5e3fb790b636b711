package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/lock"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// TriggerInput is the condition under which a clause bills a work event
type TriggerInput struct {
	UnitType    string   `json:"unit_type"`
	Keywords    []string `json:"keywords"`
	ExternalRef string   `json:"external_ref"`
}

// ClauseInput is one clause as produced by the contract parsing collaborator
type ClauseInput struct {
	ExternalID               string          `json:"clause_id"`
	Basis                    string          `json:"basis"`
	Category                 string          `json:"category"`
	Description              string          `json:"description"`
	Trigger                  TriggerInput    `json:"trigger"`
	UnitPrice                decimal.Decimal `json:"unit_price"`
	FixedAmount              decimal.Decimal `json:"fixed_amount"`
	EffectiveFrom            string          `json:"effective_from"`
	EffectiveTo              string          `json:"effective_to"`
	ExtractionConfidence     float64         `json:"extraction_confidence"`
	RequiresElevatedApproval bool            `json:"requires_elevated_approval"`
}

// IngestContractRequest is a parsed contract with its clause set
type IngestContractRequest struct {
	Reference        string          `json:"reference"`
	CustomerName     string          `json:"customer_name"`
	Currency         string          `json:"currency"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	PaymentTermsDays *int            `json:"payment_terms_days"`
	Clauses          []ClauseInput   `json:"clauses"`
}

// ReviseClausesRequest replaces a contract's clause set with a new version
type ReviseClausesRequest struct {
	Reason  string        `json:"reason"`
	Clauses []ClauseInput `json:"clauses"`
}

// ContractService ingests parsed contracts and versions their clauses
type ContractService struct {
	repos *repository.Repositories
	locks *lock.Keyed
	audit *AuditService
	now   func() time.Time
}

// NewContractService creates a new contract service
func NewContractService(repos *repository.Repositories, locks *lock.Keyed, audit *AuditService) *ContractService {
	return &ContractService{
		repos: repos,
		locks: locks,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func contractKey(id string) string { return "contract:" + id }

func canIngest(actor models.Actor) bool {
	return actor.HasRole(models.RoleIngestion, models.RoleAdmin)
}

// Ingest stores a parsed contract as version 1. A contract without
// clauses is accepted; deriving from it fails with NoBillingTermsError.
func (s *ContractService) Ingest(ctx context.Context, req IngestContractRequest, actor models.Actor) (*models.Contract, error) {
	if !canIngest(actor) {
		return nil, ErrForbidden
	}

	verr := &ValidationError{Message: "invalid contract"}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		verr.field("reference", "required")
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		verr.field("customer_name", "required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyCode.MatchString(currency) {
		verr.field("currency", "must be a three-letter ISO 4217 code")
	}
	if req.TaxRate.IsNegative() || req.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		verr.field("tax_rate", "must be a fraction in [0,1)")
	} else if !models.FitsNumeric(req.TaxRate, models.TaxRatePrecision, models.TaxRateScale) {
		verr.field("tax_rate", fmt.Sprintf("must have at most %d decimal places", models.TaxRateScale))
	}
	terms := 30
	if req.PaymentTermsDays != nil {
		terms = *req.PaymentTermsDays
		if terms < 0 {
			verr.field("payment_terms_days", "must not be negative")
		}
	}
	clauses := buildClauses(req.Clauses, 1, verr)
	if !verr.empty() {
		return nil, verr
	}

	contract := &models.Contract{
		ID:               models.NewID(),
		Reference:        reference,
		CustomerName:     customer,
		Currency:         currency,
		TaxRate:          req.TaxRate,
		PaymentTermsDays: terms,
		Version:          1,
		CreatedBy:        actor.ID,
		Clauses:          clauses,
	}
	for i := range contract.Clauses {
		contract.Clauses[i].ContractID = contract.ID
	}
	if err := s.repos.Contract.Create(ctx, contract); err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  contract.ID,
		EntityType: models.EntityContract,
		EntityID:   contract.ID,
		Action:     models.ActionContractIngest,
		Actor:      actor,
		Payload: map[string]any{
			"reference":          contract.Reference,
			"customer_name":      contract.CustomerName,
			"currency":           contract.Currency,
			"tax_rate":           contract.TaxRate.String(),
			"payment_terms_days": contract.PaymentTermsDays,
			"version":            contract.Version,
			"clauses":            clauseDigests(contract.Clauses),
		},
		Confidence: minExtraction(contract.Clauses),
	}); err != nil {
		return nil, err
	}

	logger.Info("contract ingested", "contract_id", contract.ID, "reference", contract.Reference, "clauses", len(contract.Clauses))
	return contract, nil
}

// Get returns a contract with its current clause set
func (s *ContractService) Get(ctx context.Context, id string) (*models.Contract, error) {
	c, err := s.repos.Contract.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "contract")
	}
	return c, nil
}

// ClauseHistory returns every clause of every version
func (s *ContractService) ClauseHistory(ctx context.Context, id string) ([]models.Clause, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Contract.ClauseHistory(ctx, id)
}

// List returns contracts, optionally searched by reference or customer
func (s *ContractService) List(ctx context.Context, query *repository.ListQuery) ([]models.Contract, int64, error) {
	return s.repos.Contract.List(ctx, query)
}

// ReviseClauses supersedes the current clause set with a new version.
// Invoices already derived keep pointing at the clauses they used.
func (s *ContractService) ReviseClauses(ctx context.Context, contractID string, req ReviseClausesRequest, actor models.Actor) (*models.Contract, error) {
	if !canIngest(actor) {
		return nil, ErrForbidden
	}
	verr := &ValidationError{Message: "invalid clause revision"}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		verr.field("reason", "required")
	}

	unlock := s.locks.Lock(contractKey(contractID))
	defer unlock()

	contract, err := s.repos.Contract.FindByID(ctx, contractID)
	if err != nil {
		return nil, translate(err, "contract")
	}
	clauses := buildClauses(req.Clauses, contract.Version+1, verr)
	if !verr.empty() {
		return nil, verr
	}

	previous := contract.Version
	if err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		return tx.Contract.Revise(ctx, contract, clauses, s.now())
	}); err != nil {
		return nil, translate(err, "revise clauses")
	}

	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  contract.ID,
		EntityType: models.EntityContract,
		EntityID:   contract.ID,
		Action:     models.ActionContractRevise,
		Actor:      actor,
		Payload: map[string]any{
			"from_version": previous,
			"version":      contract.Version,
			"reason":       reason,
			"clauses":      clauseDigests(contract.Clauses),
		},
		Confidence: minExtraction(contract.Clauses),
	}); err != nil {
		return nil, err
	}

	logger.Info("contract clauses revised", "contract_id", contract.ID, "version", contract.Version, "clauses", len(contract.Clauses))
	return contract, nil
}

func buildClauses(inputs []ClauseInput, version int, verr *ValidationError) []models.Clause {
	clauses := make([]models.Clause, 0, len(inputs))
	for i, in := range inputs {
		field := func(name string) string { return fmt.Sprintf("clauses[%d].%s", i, name) }

		basis := strings.ToLower(strings.TrimSpace(in.Basis))
		if !models.ValidBasis(basis) {
			verr.field(field("basis"), "must be time_and_materials, fixed_milestone or recurring_retainer")
		}
		if in.ExtractionConfidence < 0 || in.ExtractionConfidence > 1 {
			verr.field(field("extraction_confidence"), "must be in [0,1]")
		}
		if in.UnitPrice.IsNegative() {
			verr.field(field("unit_price"), "must not be negative")
		}
		if basis == models.BasisFixedMilestone && !in.FixedAmount.IsPositive() {
			verr.field(field("fixed_amount"), "required for fixed_milestone clauses")
		}
		for name, d := range map[string]decimal.Decimal{"unit_price": in.UnitPrice, "fixed_amount": in.FixedAmount} {
			if !models.FitsNumeric(d, models.AmountPrecision, models.AmountScale) {
				verr.field(field(name), fmt.Sprintf("must have at most %d decimal places and %d integer digits", models.AmountScale, models.AmountPrecision-models.AmountScale))
			}
		}
		from, err := parseDate(in.EffectiveFrom)
		if err != nil {
			verr.field(field("effective_from"), err.Error())
		}
		var to *time.Time
		if strings.TrimSpace(in.EffectiveTo) != "" {
			t, err := parseDate(in.EffectiveTo)
			switch {
			case err != nil:
				verr.field(field("effective_to"), err.Error())
			case t.Before(from):
				verr.field(field("effective_to"), "must not be before effective_from")
			default:
				to = &t
			}
		}

		keywords := make([]string, 0, len(in.Trigger.Keywords))
		for _, k := range in.Trigger.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, k)
			}
		}

		clauses = append(clauses, models.Clause{
			ID:                       models.NewID(),
			ContractVersion:          version,
			Sequence:                 i + 1,
			ExternalID:               strings.TrimSpace(in.ExternalID),
			Basis:                    basis,
			Category:                 strings.TrimSpace(in.Category),
			Description:              strings.TrimSpace(in.Description),
			TriggerUnitType:          strings.TrimSpace(in.Trigger.UnitType),
			TriggerKeywords:          keywords,
			TriggerExternalRef:       strings.TrimSpace(in.Trigger.ExternalRef),
			UnitPrice:                in.UnitPrice,
			FixedAmount:              in.FixedAmount,
			EffectiveFrom:            from,
			EffectiveTo:              to,
			ExtractionConfidence:     in.ExtractionConfidence,
			RequiresElevatedApproval: in.RequiresElevatedApproval,
		})
	}
	return clauses
}

type clauseDigest struct {
	ID                   string  `json:"id"`
	ExternalID           string  `json:"external_id"`
	Basis                string  `json:"basis"`
	Category             string  `json:"category"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	Hash                 string  `json:"hash"`
}

// clauseDigests summarizes clauses for the audit payload; each hash covers
// the clause's billing terms so a later change is detectable.
func clauseDigests(clauses []models.Clause) []clauseDigest {
	out := make([]clauseDigest, 0, len(clauses))
	for _, c := range clauses {
		to := ""
		if c.EffectiveTo != nil {
			to = c.EffectiveTo.Format("2006-01-02")
		}
		terms, _ := ledger.Canonical(map[string]any{
			"basis":          c.Basis,
			"category":       c.Category,
			"unit_type":      c.TriggerUnitType,
			"keywords":       []string(c.TriggerKeywords),
			"external_ref":   c.TriggerExternalRef,
			"unit_price":     models.Quantity(c.UnitPrice),
			"fixed_amount":   models.Money(c.FixedAmount),
			"effective_from": c.EffectiveFrom.Format("2006-01-02"),
			"effective_to":   to,
			"elevated":       c.RequiresElevatedApproval,
		})
		out = append(out, clauseDigest{
			ID:                   c.ID,
			ExternalID:           c.ExternalID,
			Basis:                c.Basis,
			Category:             c.Category,
			ExtractionConfidence: c.ExtractionConfidence,
			Hash:                 ledger.Sum(terms),
		})
	}
	return out
}

func minExtraction(clauses []models.Clause) *float64 {
	if len(clauses) == 0 {
		return nil
	}
	m := clauses[0].ExtractionConfidence
	for _, c := range clauses[1:] {
		if c.ExtractionConfidence < m {
			m = c.ExtractionConfidence
		}
	}
	return &m
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns
// midnight UTC of that day.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("required")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return models.DateOnly(t), nil
	}
	return time.Time{}, fmt.Errorf("must be a date (YYYY-MM-DD)")
}
