package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Signer signs export bundles. The default implementation is an HMAC; a
// notarization service can be plugged in behind the same interface.
type Signer interface {
	Algorithm() string
	Sign(data []byte) (string, error)
	Verify(data []byte, signature string) bool
}

// HMACSigner signs with HMAC-SHA256 over a shared key
type HMACSigner struct {
	key []byte
}

// NewHMACSigner creates a signer for the given key
func NewHMACSigner(key string) (*HMACSigner, error) {
	if key == "" {
		return nil, errors.New("audit signing key is empty")
	}
	return &HMACSigner{key: []byte(key)}, nil
}

// Algorithm names the signature scheme
func (s *HMACSigner) Algorithm() string {
	return "HMAC-SHA256"
}

// Sign returns the hex encoded MAC of data
func (s *HMACSigner) Sign(data []byte) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature produced by Sign
func (s *HMACSigner) Verify(data []byte, signature string) bool {
	expected, err := s.Sign(data)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}
