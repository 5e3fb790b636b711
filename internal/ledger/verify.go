package ledger

import (
	"fmt"

	"github.com/sjperalta/fintera-invoicing/internal/models"
)

// Verification is the result of re-checking one lineage.
type Verification struct {
	Valid          bool   `json:"valid"`
	LineageID      string `json:"lineage_id"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       *int64 `json:"broken_at,omitempty"`
	BrokenEntryID  string `json:"broken_entry_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Verify recomputes every hash of a lineage's entries, which must be in
// sequence order, and checks that the chain is contiguous from 1.
func Verify(lineageID string, entries []models.AuditEntry) Verification {
	v := Verification{Valid: true, LineageID: lineageID}

	previous := GenesisHash
	for i := range entries {
		e := &entries[i]
		v.EntriesChecked++

		var reason string
		switch {
		case e.LineageID != lineageID:
			reason = fmt.Sprintf("entry belongs to lineage %s", e.LineageID)
		case e.Sequence != int64(i+1):
			reason = fmt.Sprintf("expected sequence %d, found %d", i+1, e.Sequence)
		case e.PreviousHash != previous:
			reason = "previous hash does not match the preceding entry"
		case PayloadHash(e.Payload) != e.PayloadHash:
			reason = "payload hash mismatch"
		case EntryHash(e) != e.EntryHash:
			reason = "entry hash mismatch"
		}

		if reason != "" {
			seq := e.Sequence
			v.Valid = false
			v.BrokenAt = &seq
			v.BrokenEntryID = e.ID
			v.Reason = reason
			return v
		}
		previous = e.EntryHash
	}
	return v
}
