package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sjperalta/fintera-invoicing/internal/ledger"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/xuri/excelize/v2"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ExportService renders audit bundles into downloadable files
type ExportService struct{}

func NewExportService() *ExportService {
	return &ExportService{}
}

// Supports reports whether format can be rendered
func (s *ExportService) Supports(format string) bool {
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX, FormatPDF:
		return true
	}
	return false
}

// RenderBundle returns the file bytes, a file name and a content type
func (s *ExportService) RenderBundle(b *ledger.Bundle, format string) ([]byte, string, string, error) {
	base := fmt.Sprintf("audit_%s_%s", b.LineageID, b.GeneratedAt.Format("20060102T150405Z"))

	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return nil, "", "", err
		}
		return data, base + ".json", "application/json", nil
	case FormatCSV:
		data, err := s.bundleCSV(b)
		return data, base + ".csv", "text/csv", err
	case FormatXLSX:
		data, err := s.bundleXLSX(b)
		return data, base + ".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	case FormatPDF:
		data, err := s.bundlePDF(b)
		return data, base + ".pdf", "application/pdf", err
	default:
		return nil, "", "", fmt.Errorf("unsupported export format %q", format)
	}
}

var entryColumns = []string{
	"sequence", "timestamp", "entity_type", "entity_id", "action", "actor_type", "actor_id",
	"confidence", "corrects_entry_id", "payload_hash", "previous_hash", "entry_hash", "payload",
}

func entryRow(e *models.AuditEntry) []string {
	confidence := ""
	if e.Confidence != nil {
		confidence = strconv.FormatFloat(*e.Confidence, 'f', -1, 64)
	}
	corrects := ""
	if e.CorrectsEntryID != nil {
		corrects = *e.CorrectsEntryID
	}
	return []string{
		strconv.FormatInt(e.Sequence, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EntityType,
		e.EntityID,
		e.Action,
		e.ActorType,
		e.ActorID,
		confidence,
		corrects,
		e.PayloadHash,
		e.PreviousHash,
		e.EntryHash,
		e.Payload,
	}
}

func bundleSummary(b *ledger.Bundle) [][2]string {
	valid := "yes"
	if !b.Verification.Valid {
		valid = fmt.Sprintf("NO (entry %d: %s)", derefInt64(b.Verification.BrokenAt), b.Verification.Reason)
	}
	return [][2]string{
		{"Lineage", b.LineageID},
		{"Generated at", b.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Range", rangeLabel(b.From, b.To)},
		{"Entries", strconv.Itoa(len(b.Entries))},
		{"Chain valid", valid},
		{"Integrity hash", b.IntegrityHash},
		{"Signature", b.Signature},
		{"Signature algorithm", b.SignatureAlgorithm},
	}
}

func (s *ExportService) bundleCSV(b *ledger.Bundle) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	for _, kv := range bundleSummary(b) {
		_ = writer.Write([]string{"#", kv[0], kv[1]})
	}
	_ = writer.Write(entryColumns)
	for i := range b.Entries {
		_ = writer.Write(entryRow(&b.Entries[i]))
	}

	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func (s *ExportService) bundleXLSX(b *ledger.Bundle) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summary := "Summary"
	_ = f.SetSheetName("Sheet1", summary)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	for i, kv := range bundleSummary(b) {
		row := i + 1
		_ = f.SetCellValue(summary, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summary, fmt.Sprintf("B%d", row), kv[1])
	}
	_ = f.SetCellStyle(summary, "A1", fmt.Sprintf("A%d", len(bundleSummary(b))), headerStyle)
	_ = f.SetColWidth(summary, "A", "A", 22)
	_ = f.SetColWidth(summary, "B", "B", 80)

	entries := "Entries"
	if _, err := f.NewSheet(entries); err != nil {
		return nil, err
	}
	for col, name := range entryColumns {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(entries, cell, name)
	}
	last, _ := excelize.CoordinatesToCellName(len(entryColumns), 1)
	_ = f.SetCellStyle(entries, "A1", last, headerStyle)

	for i := range b.Entries {
		for col, value := range entryRow(&b.Entries[i]) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(entries, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ExportService) bundlePDF(b *ledger.Bundle) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Audit ledger snapshot")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 9)
	for _, kv := range bundleSummary(b) {
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(40, 6, kv[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, kv[1], "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	widths := []float64{12, 44, 24, 62, 30, 70}
	headers := []string{"Seq", "Timestamp", "Entity", "Entity id", "Action", "Entry hash"}
	pdf.SetFont("Arial", "B", 8)
	pdf.SetFillColor(224, 224, 224)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 7)
	for i := range b.Entries {
		e := &b.Entries[i]
		cells := []string{
			strconv.FormatInt(e.Sequence, 10),
			e.Timestamp.UTC().Format(time.RFC3339),
			e.EntityType,
			e.EntityID,
			e.Action,
			shortHash(e.EntryHash),
		}
		for j, v := range cells {
			pdf.CellFormat(widths[j], 5, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := new(bytes.Buffer)
	if err := pdf.Output(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shortHash(h string) string {
	if len(h) > 40 {
		return h[:40] + "..."
	}
	return h
}

func rangeLabel(from, to *time.Time) string {
	label := func(t *time.Time) string {
		if t == nil {
			return "open"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return label(from) + " to " + label(to)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
