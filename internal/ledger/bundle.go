package ledger

import (
	"fmt"
	"time"

	"github.com/sjperalta/fintera-invoicing/internal/models"
)

// Bundle is a signed, self-verifying snapshot of a lineage's entries in a
// time range.
type Bundle struct {
	LineageID          string              `json:"lineage_id"`
	From               *time.Time          `json:"from,omitempty"`
	To                 *time.Time          `json:"to,omitempty"`
	GeneratedAt        time.Time           `json:"generated_at"`
	Entries            []models.AuditEntry `json:"entries"`
	Verification       Verification        `json:"verification"`
	IntegrityHash      string              `json:"integrity_hash"`
	Signature          string              `json:"signature"`
	SignatureAlgorithm string              `json:"signature_algorithm"`
	StoragePath        string              `json:"storage_path,omitempty"`
}

type bundleBody struct {
	LineageID    string              `json:"lineage_id"`
	From         *time.Time          `json:"from,omitempty"`
	To           *time.Time          `json:"to,omitempty"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Entries      []models.AuditEntry `json:"entries"`
	Verification Verification        `json:"verification"`
}

func (b *Bundle) body() ([]byte, error) {
	return Canonical(bundleBody{
		LineageID:    b.LineageID,
		From:         b.From,
		To:           b.To,
		GeneratedAt:  b.GeneratedAt,
		Entries:      b.Entries,
		Verification: b.Verification,
	})
}

// Seal computes the integrity hash and signs it.
func (b *Bundle) Seal(signer Signer) error {
	body, err := b.body()
	if err != nil {
		return err
	}
	b.IntegrityHash = Sum(body)

	sig, err := signer.Sign([]byte(b.IntegrityHash))
	if err != nil {
		return fmt.Errorf("sign bundle: %w", err)
	}
	b.Signature = sig
	b.SignatureAlgorithm = signer.Algorithm()
	return nil
}

// CheckSeal recomputes the integrity hash and verifies the signature.
func (b *Bundle) CheckSeal(signer Signer) error {
	body, err := b.body()
	if err != nil {
		return err
	}
	if Sum(body) != b.IntegrityHash {
		return fmt.Errorf("bundle integrity hash mismatch")
	}
	if !signer.Verify([]byte(b.IntegrityHash), b.Signature) {
		return fmt.Errorf("bundle signature is invalid")
	}
	return nil
}
