package verifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const promptTemplate = `You verify SINPE Movil payment receipts from Costa Rica.

Read the attached receipt image and extract:
1. Amount transferred, in Costa Rican colones (CRC)
2. Receiver phone number (the account that gets the money)
3. Sender phone number
4. Transaction ID or reference number
5. Transaction date and time
6. Bank or financial institution

The receipt is valid only if:
- the amount is exactly %s colones
- the receiver phone number is %s
- the transaction happened within the last %s

Notes:
- phone numbers may appear as +506XXXXXXXX or as 8 bare digits
- amounts may use commas or dots as thousands separators
- look for wording such as "Transferencia exitosa", "SINPE" or "Movil"

Reply with a single JSON object and nothing else:
{
  "amount": "amount as a decimal number",
  "receiver_phone": "receiver number with country code",
  "sender_phone": "sender number with country code",
  "transaction_id": "transaction id",
  "transaction_date": "ISO 8601 date and time",
  "bank": "bank name",
  "verified": true or false,
  "confidence": a number from 0 to 100,
  "issues": ["problems found, empty if none"]
}

If the image is unreadable or is not a SINPE receipt, set verified to false, confidence to 0 and explain in issues.
`

// BuildPrompt renders the extraction instructions for one order.
func BuildPrompt(amount decimal.Decimal, receiver string, window time.Duration) string {
	return fmt.Sprintf(promptTemplate, formatCRC(amount), receiver, humanizeWindow(window))
}

// formatCRC renders 5000 as ₡5,000.00.
func formatCRC(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac := s[:len(s)-3], s[len(s)-3:]

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + "₡" + b.String() + frac
}

func humanizeWindow(d time.Duration) string {
	switch {
	case d <= 0 || d == time.Hour:
		return "hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
