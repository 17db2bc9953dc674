package verifier

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/d60-Lab/marketplace/config"
	"github.com/d60-Lab/marketplace/internal/model"
)

const (
	NoteLowConfidence      = "low confidence"
	NoteSellerConfirmation = "seller confirmation required"
	NoteAutoApproved       = "automatically approved"

	// confidence ceiling once our own checks disagree with the service
	cappedConfidence = 60
)

var amountTolerance = decimal.New(1, -2)

// Expectation is what the order says the receipt must show.
type Expectation struct {
	Total         decimal.Decimal
	ReceiverPhone string
	// ReusedByOrder is set when the same image was already uploaded for another order.
	ReusedByOrder string
}

// Result is the final outcome of one automated verification.
type Result struct {
	Verified    bool
	Confidence  float64
	Extracted   model.ExtractedData
	Issues      []string
	Status      model.ReceiptStatus
	Note        string
	ServiceFail bool
}

// Policy holds the disposition thresholds and validation parameters.
type Policy struct {
	AutoApprove float64
	ManualFloor float64
	Recency     time.Duration
	CountryCode string
	Location    *time.Location
	Now         func() time.Time
}

// NewPolicy builds a policy from payment config. An unknown timezone falls back to UTC.
func NewPolicy(cfg config.PaymentConfig) Policy {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	return Policy{
		AutoApprove: cfg.AutoApproveConfidence,
		ManualFloor: cfg.ManualReviewFloor,
		Recency:     cfg.RecencyWindow,
		CountryCode: cfg.DefaultCountryCode,
		Location:    loc,
		Now:         time.Now,
	}
}

// Assess validates the extraction independently of the service's verdict and
// decides the receipt's next status.
func (p Policy) Assess(ext *Extraction, exp Expectation) Result {
	res := Result{
		Verified:   ext.Verified,
		Confidence: clamp(ext.Confidence),
		Extracted:  toModel(ext),
		Issues:     append([]string{}, ext.Issues...),
	}

	extra := p.validate(ext, exp)
	if len(extra) > 0 {
		res.Issues = append(res.Issues, extra...)
		res.Verified = false
		res.Confidence = math.Min(res.Confidence, cappedConfidence)
	}
	res.Status, res.Note = p.Decide(res.Verified, res.Confidence)
	return res
}

// Failure converts a service error into a zero-confidence unverified result.
func (p Policy) Failure(err error) Result {
	msg := err.Error()
	if !errors.Is(err, ErrExternalService) {
		msg = fmt.Sprintf("%s: %s", ErrExternalService, msg)
	}
	res := Result{
		Issues:      []string{"verification error: " + msg},
		ServiceFail: true,
	}
	res.Status, res.Note = p.Decide(false, 0)
	return res
}

// Decide maps (verified, confidence) to a receipt status and note.
func (p Policy) Decide(verified bool, confidence float64) (model.ReceiptStatus, string) {
	switch {
	case verified && confidence >= p.AutoApprove:
		return model.ReceiptApproved, NoteAutoApproved
	case !verified || confidence < p.ManualFloor:
		return model.ReceiptManualReview, NoteLowConfidence
	default:
		return model.ReceiptManualReview, NoteSellerConfirmation
	}
}

func (p Policy) validate(ext *Extraction, exp Expectation) []string {
	var issues []string

	if ext.Amount == nil {
		issues = append(issues, "amount could not be read from the receipt")
	} else if amt, err := ParseAmount(*ext.Amount); err != nil {
		issues = append(issues, fmt.Sprintf("amount %q could not be parsed", *ext.Amount))
	} else if amt.Sub(exp.Total).Abs().GreaterThan(amountTolerance) {
		issues = append(issues, fmt.Sprintf("amount mismatch: expected %s, found %s", formatCRC(exp.Total), formatCRC(amt)))
	}

	got := ""
	if ext.ReceiverPhone != nil {
		got = *ext.ReceiverPhone
	}
	if NormalizePhone(got, p.CountryCode) != NormalizePhone(exp.ReceiverPhone, p.CountryCode) {
		issues = append(issues, fmt.Sprintf("receiver mismatch: expected %s, found %s", exp.ReceiverPhone, got))
	}

	if ext.TransactionDate == nil {
		issues = append(issues, "transaction date missing")
	} else if ts, err := p.parseTime(*ext.TransactionDate); err != nil {
		issues = append(issues, fmt.Sprintf("transaction date %q is invalid", *ext.TransactionDate))
	} else {
		now := p.now()
		switch {
		case now.Sub(ts) > p.Recency:
			issues = append(issues, fmt.Sprintf("transaction too old: %s", ts.Format(time.RFC3339)))
		case ts.Sub(now) > p.Recency:
			issues = append(issues, fmt.Sprintf("transaction dated in the future: %s", ts.Format(time.RFC3339)))
		}
	}

	if exp.ReusedByOrder != "" {
		issues = append(issues, fmt.Sprintf("receipt image already used for order %s", exp.ReusedByOrder))
	}
	return issues
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func (p Policy) parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// NormalizePhone keeps digits and '+', and prefixes countryCode when no '+' is present.
// An empty input stays empty.
func NormalizePhone(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if !strings.HasPrefix(out, "+") {
		out = countryCode + out
	}
	return out
}

// ParseAmount reads amounts such as "5000", "5,000.00", "₡5.000,00" or "CRC 5000.5".
func ParseAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return decimal.Zero, fmt.Errorf("no digits in %q", s)
	}

	lastComma, lastDot := strings.LastIndex(clean, ","), strings.LastIndex(clean, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(clean, ",") == 1 && len(clean)-lastComma-1 <= 2 {
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(clean, ",", "")
		}
	case strings.Count(clean, ".") > 1:
		clean = strings.ReplaceAll(clean, ".", "")
	}
	return decimal.NewFromString(clean)
}

func toModel(ext *Extraction) model.ExtractedData {
	out := model.ExtractedData{
		ReceiverPhone:   ext.ReceiverPhone,
		SenderPhone:     ext.SenderPhone,
		TransactionID:   ext.TransactionID,
		TransactionDate: ext.TransactionDate,
		Bank:            ext.Bank,
	}
	if ext.Amount != nil {
		if amt, err := ParseAmount(*ext.Amount); err == nil {
			out.Amount = decimal.NewNullDecimal(amt.Round(2))
		}
	}
	return out
}

func clamp(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(100, c))
}
