package verifier

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt_Golden(t *testing.T) {
	g := goldie.New(t)
	prompt := BuildPrompt(decimal.NewFromInt(5000), "+50688887777", time.Hour)
	g.Assert(t, "verification_prompt", []byte(prompt))
}

func TestFormatCRC(t *testing.T) {
	cases := map[string]string{
		"0":          "₡0.00",
		"999.5":      "₡999.50",
		"1000":       "₡1,000.00",
		"1234567.89": "₡1,234,567.89",
		"-2500":      "-₡2,500.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatCRC(decimal.RequireFromString(in)), in)
	}
}

func TestHumanizeWindow(t *testing.T) {
	assert.Equal(t, "hour", humanizeWindow(time.Hour))
	assert.Equal(t, "hour", humanizeWindow(0))
	assert.Equal(t, "2 hours", humanizeWindow(2*time.Hour))
	assert.Equal(t, "90 minutes", humanizeWindow(90*time.Minute))
}
