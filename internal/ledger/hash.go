// Package ledger holds the hashing and verification rules of the audit
// ledger. Entries form one hash chain per lineage: each entry's
// PreviousHash is the EntryHash of the entry before it, and the first
// entry links to GenesisHash.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
)

const hashPrefix = "sha256:"

// GenesisHash is the PreviousHash of the first entry of every lineage.
var GenesisHash = hashPrefix + strings.Repeat("0", 64)

// Canonical renders v as compact JSON with object keys sorted, so the same
// logical payload always produces the same bytes.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sum returns the prefixed sha256 of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hashPrefix + hex.EncodeToString(h[:])
}

// PayloadHash hashes a stored payload exactly as persisted.
func PayloadHash(payload string) string {
	return Sum([]byte(payload))
}

// Timestamp normalizes a time to the precision the ledger stores.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EntryHash computes the hash of an entry from its fields. EntryHash and ID
// themselves are not part of the input.
func EntryHash(e *models.AuditEntry) string {
	confidence := ""
	if e.Confidence != nil {
		confidence = strconv.FormatFloat(*e.Confidence, 'f', -1, 64)
	}
	corrects := ""
	if e.CorrectsEntryID != nil {
		corrects = *e.CorrectsEntryID
	}

	fields := []string{
		e.LineageID,
		strconv.FormatInt(e.Sequence, 10),
		e.EntityType,
		e.EntityID,
		e.Action,
		e.ActorType,
		e.ActorID,
		Timestamp(e.Timestamp).Format(time.RFC3339Nano),
		e.PayloadHash,
		e.PreviousHash,
		confidence,
		corrects,
	}
	return Sum([]byte(strings.Join(fields, "|")))
}

// Seal fills in the hashes of an entry that is about to be appended after
// previous (nil for the first entry of a lineage).
func Seal(e *models.AuditEntry, previous *models.AuditEntry) {
	if previous == nil {
		e.Sequence = 1
		e.PreviousHash = GenesisHash
	} else {
		e.Sequence = previous.Sequence + 1
		e.PreviousHash = previous.EntryHash
	}
	e.Timestamp = Timestamp(e.Timestamp)
	e.PayloadHash = PayloadHash(e.Payload)
	e.EntryHash = EntryHash(e)
}
