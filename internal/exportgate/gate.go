// Package exportgate sends approved invoices to the external accounting
// system. Only the generic JSON contract is implemented here.
package exportgate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sjperalta/fintera-invoicing/pkg/logger"
)

// Gate accepts an approved invoice. The idempotency key must make repeated
// pushes of the same content a no-op on the receiving side.
type Gate interface {
	Push(ctx context.Context, idempotencyKey string, payload *InvoicePayload) (*Receipt, error)
}

// LinePayload is one invoice line as the accounting system receives it
type LinePayload struct {
	Number      int    `json:"number"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

// InvoicePayload is the body posted to the gate
type InvoicePayload struct {
	InvoiceID   string        `json:"invoice_id"`
	ApprovalID  string        `json:"approval_id"`
	ContentHash string        `json:"content_hash"`
	ContractID  string        `json:"contract_id"`
	Currency    string        `json:"currency"`
	InvoiceDate string        `json:"invoice_date"`
	DueDate     string        `json:"due_date"`
	Lines       []LinePayload `json:"lines"`
	Subtotal    string        `json:"subtotal"`
	Tax         string        `json:"tax"`
	Total       string        `json:"total"`
	Memo        string        `json:"memo"`
	ApprovedBy  string        `json:"approved_by"`
}

// Receipt is the gate's acknowledgement
type Receipt struct {
	ExternalRef string    `json:"external_ref"`
	Status      string    `json:"status"`
	ReceivedAt  time.Time `json:"received_at"`
}

// StatusError is a non-2xx answer from the gate
type StatusError struct {
	Code int
	Body map[string]any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("export gate http %d: %v", e.Code, e.Body)
}

// Client talks to a real gate over HTTP
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

// NewClient creates a client for the gate at baseURL
func NewClient(baseURL, bearer string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		Bearer:     bearer,
	}
}

// Push posts the invoice. The caller bounds the call with ctx.
func (c *Client) Push(ctx context.Context, idempotencyKey string, payload *InvoicePayload) (*Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	receipt, err := doJSON[Receipt](c, req)
	if err != nil {
		return nil, err
	}
	if receipt.ExternalRef == "" {
		return nil, errors.New("export gate acknowledged without an external reference")
	}
	return receipt, nil
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, &StatusError{Code: resp.StatusCode, Body: errBody}
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sandbox acknowledges every push locally with a reference derived from the
// idempotency key, so repeated pushes get the same reference.
type Sandbox struct{}

// NewSandbox creates a sandbox gate
func NewSandbox() *Sandbox {
	logger.Warn("EXPORT_GATE_URL not set, invoices are pushed to the sandbox gate")
	return &Sandbox{}
}

// Push returns a deterministic receipt
func (s *Sandbox) Push(ctx context.Context, idempotencyKey string, payload *InvoicePayload) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(idempotencyKey))
	return &Receipt{
		ExternalRef: "SBX-" + strings.ToUpper(hex.EncodeToString(sum[:6])),
		Status:      "accepted",
		ReceivedAt:  time.Now().UTC(),
	}, nil
}

// New returns an HTTP client when a URL is configured and the sandbox otherwise
func New(baseURL, bearer string) Gate {
	if baseURL == "" {
		return NewSandbox()
	}
	return NewClient(baseURL, bearer)
}
