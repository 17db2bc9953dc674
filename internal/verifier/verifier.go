// Package verifier extracts structured payment data from SINPE Móvil receipt
// images through an external vision model and cross-checks the result against
// the order it is supposed to pay for.
package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrExternalService wraps every failure of the vision service: transport,
// HTTP status, or a reply that does not match the extraction contract.
var ErrExternalService = errors.New("verification service error")

// Request is what the vision service gets to see.
type Request struct {
	Image            []byte
	ContentType      string
	ExpectedAmount   decimal.Decimal
	ExpectedReceiver string
}

// Extraction is the vision service's answer.
type Extraction struct {
	Amount          *string  `json:"amount"`
	ReceiverPhone   *string  `json:"receiver_phone"`
	SenderPhone     *string  `json:"sender_phone"`
	TransactionID   *string  `json:"transaction_id"`
	TransactionDate *string  `json:"transaction_date"`
	Bank            *string  `json:"bank"`
	Verified        bool     `json:"verified"`
	Confidence      float64  `json:"confidence"`
	Issues          []string `json:"issues"`
}

// Client is the contract the receipt workflow depends on.
type Client interface {
	Extract(ctx context.Context, req Request) (*Extraction, error)
}

// ParseContent decodes the model reply. Anything before the first '{' or after
// the last '}' is ignored.
func ParseContent(content string) (*Extraction, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrExternalService)
	}

	var raw struct {
		Amount          flexString  `json:"amount"`
		ReceiverPhone   flexString  `json:"receiver_phone"`
		SenderPhone     flexString  `json:"sender_phone"`
		TransactionID   flexString  `json:"transaction_id"`
		TransactionDate flexString  `json:"transaction_date"`
		Bank            flexString  `json:"bank"`
		Verified        *bool       `json:"verified"`
		Confidence      json.Number `json:"confidence"`
		Issues          []string    `json:"issues"`
	}
	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: malformed reply: %v", ErrExternalService, err)
	}
	if raw.Verified == nil {
		return nil, fmt.Errorf("%w: reply has no verified flag", ErrExternalService)
	}

	out := &Extraction{
		Amount:          raw.Amount.ptr(),
		ReceiverPhone:   raw.ReceiverPhone.ptr(),
		SenderPhone:     raw.SenderPhone.ptr(),
		TransactionID:   raw.TransactionID.ptr(),
		TransactionDate: raw.TransactionDate.ptr(),
		Bank:            raw.Bank.ptr(),
		Verified:        *raw.Verified,
		Issues:          raw.Issues,
	}
	if raw.Confidence != "" {
		c, err := raw.Confidence.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: confidence %q is not a number", ErrExternalService, raw.Confidence)
		}
		out.Confidence = c
	}
	if out.Issues == nil {
		out.Issues = []string{}
	}
	return out, nil
}

// flexString accepts a JSON string, number or null.
type flexString struct {
	val   string
	valid bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.val, f.valid = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	f.val, f.valid = n.String(), true
	return nil
}

func (f flexString) ptr() *string {
	if !f.valid || strings.TrimSpace(f.val) == "" {
		return nil
	}
	v := strings.TrimSpace(f.val)
	return &v
}
