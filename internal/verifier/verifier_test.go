package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContent(t *testing.T) {
	content := "Here is the result:\n```json\n" + `{
		"amount": "5000.00",
		"receiver_phone": "+506 8888-7777",
		"sender_phone": null,
		"transaction_id": 123456,
		"transaction_date": "2024-03-09T10:00:00-06:00",
		"bank": "BCR",
		"verified": true,
		"confidence": 92,
		"issues": []
	}` + "\n```\nLet me know."

	ext, err := ParseContent(content)
	require.NoError(t, err)
	require.NotNil(t, ext.Amount)
	assert.Equal(t, "5000.00", *ext.Amount)
	assert.Equal(t, "+506 8888-7777", *ext.ReceiverPhone)
	assert.Nil(t, ext.SenderPhone)
	assert.Equal(t, "123456", *ext.TransactionID)
	assert.True(t, ext.Verified)
	assert.Equal(t, 92.0, ext.Confidence)
	assert.Empty(t, ext.Issues)
}

func TestParseContent_NumericStrings(t *testing.T) {
	ext, err := ParseContent(`{"amount": 5000, "verified": false, "confidence": "35.5"}`)
	require.NoError(t, err)
	assert.Equal(t, "5000", *ext.Amount)
	assert.Equal(t, 35.5, ext.Confidence)
	assert.NotNil(t, ext.Issues)
}

func TestParseContent_NonConforming(t *testing.T) {
	cases := map[string]string{
		"no json":          "I cannot read this image.",
		"broken json":      `{"amount": "5000", "verified": tru}`,
		"missing verified": `{"amount": "5000", "confidence": 90}`,
		"verified string":  `{"verified": "yes", "confidence": 90}`,
		"bad confidence":   `{"verified": true, "confidence": "high"}`,
		"reversed braces":  "} nothing {",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseContent(content)
			assert.ErrorIs(t, err, ErrExternalService)
		})
	}
}
