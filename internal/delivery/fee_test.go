package delivery

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/marketplace/config"
)

func testCalculator() *Calculator {
	return NewCalculator(config.DeliveryConfig{
		Currency: "CRC",
		TierAMax: 5, TierBMax: 15, TierCMax: 30,
		TierAFee: decimal.RequireFromString("1500.00"),
		TierBFee: decimal.RequireFromString("3000.00"),
		TierCFee: decimal.RequireFromString("5000.00"),
		TierDFee: decimal.RequireFromString("7500.00"),
	})
}

func TestDistanceKm_SamePoint(t *testing.T) {
	p := Point{Lat: 9.9431, Lon: -84.0631}
	assert.True(t, DistanceKm(p, p).IsZero())
}

func TestDistanceKm_OneDegreeOfLatitude(t *testing.T) {
	// 1 degree along a meridian is R*pi/180 = 111.19 km
	d := DistanceKm(Point{Lat: 0, Lon: 0}, Point{Lat: 1, Lon: 0})
	assert.Equal(t, "111.19", d.StringFixed(2))
}

func TestDistanceKm_SanJoseNeighbourhoods(t *testing.T) {
	d := DistanceKm(Point{Lat: 9.943100, Lon: -84.063106}, Point{Lat: 9.935300, Lon: -84.087800})
	f, _ := d.Float64()
	assert.InDelta(t, 2.84, f, 0.05)
}

func TestTierFor_InclusiveUpperBounds(t *testing.T) {
	c := testCalculator()
	cases := []struct {
		km   string
		tier string
		fee  string
	}{
		{"0", "A", "1500"},
		{"4.99", "A", "1500"},
		{"5.00", "A", "1500"},
		{"5.01", "B", "3000"},
		{"15.00", "B", "3000"},
		{"15.01", "C", "5000"},
		{"30.00", "C", "5000"},
		{"30.01", "D", "7500"},
		{"250", "D", "7500"},
	}
	for _, tc := range cases {
		t.Run(tc.km, func(t *testing.T) {
			tier := c.TierFor(decimal.RequireFromString(tc.km))
			assert.Equal(t, tc.tier, tier.Name)
			assert.True(t, decimal.RequireFromString(tc.fee).Equal(tier.Fee))
		})
	}
}

func TestQuote_ShortHopIsTierA(t *testing.T) {
	c := testCalculator()
	from, err := ParsePoint("9.943100", "-84.063106")
	require.NoError(t, err)
	to, err := ParsePoint("9.935300", "-84.087800")
	require.NoError(t, err)

	q := c.Quote(from, to)
	assert.Equal(t, "A", q.Tier)
	assert.Equal(t, "CRC", q.Currency)
	assert.True(t, decimal.RequireFromString("1500").Equal(q.Fee))
}

func TestQuote_LongDistanceIsTierD(t *testing.T) {
	c := testCalculator()
	// San José -> Liberia, roughly 170 km
	q := c.Quote(Point{Lat: 9.9281, Lon: -84.0907}, Point{Lat: 10.6346, Lon: -85.4407})
	assert.Equal(t, "D", q.Tier)
}

func TestParsePoint_InvalidInput(t *testing.T) {
	cases := map[string][2]json.Number{
		"missing lat":   {"", "-84.0"},
		"missing lon":   {"9.9", ""},
		"non numeric":   {"abc", "-84.0"},
		"lat too large": {"91", "0"},
		"lon too large": {"0", "181"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePoint(in[0], in[1])
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
