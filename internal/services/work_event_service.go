package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/internal/storage"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// NumberText holds a decimal as text. It unmarshals from a JSON number or
// string so malformed values surface as row errors, not binding errors.
type NumberText string

func (n *NumberText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = NumberText(s)
		return nil
	}
	*n = NumberText(strings.TrimSpace(string(data)))
	return nil
}

// WorkEventInput is one row of the ingestion schema. The JSON and CSV paths
// share its validation.
type WorkEventInput struct {
	EventID     string     `json:"event_id"`
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Units       NumberText `json:"units"`
	UnitType    string     `json:"unit_type"`
	Amount      NumberText `json:"amount"`
	ExternalRef string     `json:"external_ref"`
}

// IngestResult is a stored batch
type IngestResult struct {
	BatchID      string             `json:"batch_id"`
	Events       []models.WorkEvent `json:"events"`
	EvidencePath string             `json:"evidence_path,omitempty"`
}

// csvHeader is the column order of the import file
var csvHeader = []string{"event_id", "date", "description", "units", "unit_type", "amount", "external_ref"}

const maxImportRows = 10000

// WorkEventService ingests billable activity. A batch is validated as a
// whole: one bad row rejects it and nothing is written.
type WorkEventService struct {
	repos   *repository.Repositories
	audit   *AuditService
	storage *storage.LocalStorage
	now     func() time.Time
}

// NewWorkEventService creates a new work event service
func NewWorkEventService(repos *repository.Repositories, audit *AuditService, store *storage.LocalStorage) *WorkEventService {
	return &WorkEventService{
		repos:   repos,
		audit:   audit,
		storage: store,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a JSON batch
func (s *WorkEventService) Ingest(ctx context.Context, contractID string, rows []WorkEventInput, actor models.Actor) (*IngestResult, error) {
	return s.ingest(ctx, contractID, rows, "json", "", actor)
}

// ImportCSV parses an uploaded CSV, stores the batch and keeps the raw file
// as evidence.
func (s *WorkEventService) ImportCSV(ctx context.Context, contractID string, r io.Reader, fileName string, actor models.Actor) (*IngestResult, error) {
	raw, err := io.ReadAll(io.LimitReader(r, storage.MaxFileSize()+1))
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if int64(len(raw)) > storage.MaxFileSize() {
		return nil, &ValidationError{Message: "file too large", Fields: map[string]string{"file": fmt.Sprintf("must not exceed %d bytes", storage.MaxFileSize())}}
	}

	rows, err := ParseWorkEventCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	if !canIngest(actor) {
		return nil, ErrForbidden
	}
	if _, err := s.repos.Contract.FindByID(ctx, contractID); err != nil {
		return nil, translate(err, "contract")
	}
	if verr := validateRows(rows); verr != nil {
		return nil, verr
	}

	// stored before the rows so the audit entry can point at it; a failed
	// insert leaves an orphan file, never an orphan row
	path := ""
	if s.storage != nil {
		if fileName == "" {
			fileName = "work_events.csv"
		}
		path, err = s.storage.UploadFromBytes(raw, fileName, "work_events/"+contractID)
		if err != nil {
			return nil, fmt.Errorf("store csv evidence: %w", err)
		}
	}
	return s.ingest(ctx, contractID, rows, "csv", path, actor)
}

// ParseWorkEventCSV reads rows in the import schema. The header must name
// every column; extra columns are ignored.
func ParseWorkEventCSV(r io.Reader) ([]WorkEventInput, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Message: "csv file is empty"}
	}
	if err != nil {
		return nil, &ValidationError{Message: "csv header could not be read", Fields: map[string]string{"file": err.Error()}}
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	verr := &ValidationError{Message: "invalid csv header"}
	for _, col := range csvHeader {
		if _, ok := index[col]; !ok {
			verr.field(col, "missing column")
		}
	}
	if !verr.empty() {
		return nil, verr
	}

	get := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []WorkEventInput
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Message: "csv could not be parsed", Fields: map[string]string{"file": err.Error()}}
		}
		if len(rows) == maxImportRows {
			return nil, &ValidationError{Message: fmt.Sprintf("csv has more than %d rows", maxImportRows)}
		}
		rows = append(rows, WorkEventInput{
			EventID:     get(record, "event_id"),
			Date:        get(record, "date"),
			Description: get(record, "description"),
			Units:       NumberText(get(record, "units")),
			UnitType:    get(record, "unit_type"),
			Amount:      NumberText(get(record, "amount")),
			ExternalRef: get(record, "external_ref"),
		})
	}
	return rows, nil
}

// List returns a contract's work events
func (s *WorkEventService) List(ctx context.Context, contractID string, query *repository.ListQuery) ([]models.WorkEvent, int64, error) {
	if _, err := s.repos.Contract.FindByID(ctx, contractID); err != nil {
		return nil, 0, translate(err, "contract")
	}
	return s.repos.WorkEvent.ListByContract(ctx, contractID, query)
}

func (s *WorkEventService) ingest(ctx context.Context, contractID string, rows []WorkEventInput, source, evidence string, actor models.Actor) (*IngestResult, error) {
	if !canIngest(actor) {
		return nil, ErrForbidden
	}
	contract, err := s.repos.Contract.FindByID(ctx, contractID)
	if err != nil {
		return nil, translate(err, "contract")
	}
	if verr := validateRows(rows); verr != nil {
		return nil, verr
	}

	batchID := models.NewID()
	now := s.now()
	events := make([]models.WorkEvent, 0, len(rows))
	for _, row := range rows {
		e, _ := toWorkEvent(row)
		e.ID = models.NewID()
		e.ContractID = contract.ID
		e.BatchID = batchID
		e.IngestedBy = actor.ID
		e.IngestedAt = now
		events = append(events, e)
	}

	if err := s.repos.WorkEvent.CreateBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("store work events: %w", err)
	}

	ids := make([]string, len(events))
	externalIDs := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
		externalIDs[i] = e.ExternalID
	}
	payload := map[string]any{
		"batch_id":     batchID,
		"source":       source,
		"count":        len(events),
		"event_ids":    ids,
		"external_ids": externalIDs,
	}
	if evidence != "" {
		payload["evidence_path"] = evidence
	}
	if _, err := s.audit.Append(ctx, AuditRecord{
		LineageID:  contract.ID,
		EntityType: models.EntityWorkEvent,
		EntityID:   batchID,
		Action:     models.ActionWorkEventIngest,
		Actor:      actor,
		Payload:    payload,
	}); err != nil {
		return nil, err
	}

	logger.Info("work events ingested", "contract_id", contract.ID, "batch_id", batchID, "count", len(events), "source", source)
	return &IngestResult{BatchID: batchID, Events: events, EvidencePath: evidence}, nil
}

// validateRows checks every row and reports all problems at once
func validateRows(rows []WorkEventInput) *ValidationError {
	verr := &ValidationError{Message: "invalid work event batch"}
	if len(rows) == 0 {
		verr.field("events", "at least one work event is required")
		return verr
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		n := i + 1
		if _, errs := toWorkEvent(row); len(errs) > 0 {
			for _, e := range errs {
				verr.row(n, e.Field, e.Message)
			}
		}
		id := strings.TrimSpace(row.EventID)
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			verr.row(n, "event_id", fmt.Sprintf("duplicates row %d", first))
		} else {
			seen[id] = n
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func toWorkEvent(row WorkEventInput) (models.WorkEvent, []RowError) {
	var errs []RowError
	add := func(field, msg string) { errs = append(errs, RowError{Field: field, Message: msg}) }

	e := models.WorkEvent{
		ExternalID:  strings.TrimSpace(row.EventID),
		Description: strings.TrimSpace(row.Description),
		UnitType:    strings.ToLower(strings.TrimSpace(row.UnitType)),
		ExternalRef: strings.TrimSpace(row.ExternalRef),
	}
	if e.ExternalID == "" {
		add("event_id", "required")
	}
	date, err := parseDate(row.Date)
	if err != nil {
		add("date", err.Error())
	}
	e.Date = date
	if e.UnitType == "" {
		add("unit_type", "required")
	}

	units, err := decimal.NewFromString(strings.TrimSpace(string(row.Units)))
	switch {
	case err != nil:
		add("units", "must be a number")
	case units.IsNegative():
		add("units", "must not be negative")
	case !models.FitsNumeric(units, models.AmountPrecision, models.AmountScale):
		add("units", fmt.Sprintf("must have at most %d decimal places and %d integer digits", models.AmountScale, models.AmountPrecision-models.AmountScale))
	default:
		e.Units = units
	}

	if raw := strings.TrimSpace(string(row.Amount)); raw != "" {
		amount, err := decimal.NewFromString(raw)
		switch {
		case err != nil:
			add("amount", "must be a number")
		case amount.IsNegative():
			add("amount", "must not be negative")
		case !models.FitsNumeric(amount, models.AmountPrecision, models.AmountScale):
			add("amount", fmt.Sprintf("must have at most %d decimal places and %d integer digits", models.AmountScale, models.AmountPrecision-models.AmountScale))
		default:
			e.Amount = &amount
		}
	}
	return e, errs
}
