// Package delivery computes delivery distance and fee tiers from GPS coordinates.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/d60-Lab/marketplace/config"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// ErrInvalidInput is returned for missing, non-numeric or out-of-range coordinates.
var ErrInvalidInput = errors.New("invalid coordinates")

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// ParsePoint parses textual coordinates, accepting anything json.Number accepts.
func ParsePoint(lat, lon json.Number) (Point, error) {
	la, err := parseCoord(lat, 90)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude: %v", ErrInvalidInput, err)
	}
	lo, err := parseCoord(lon, 180)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude: %v", ErrInvalidInput, err)
	}
	return Point{Lat: la, Lon: lo}, nil
}

func parseCoord(n json.Number, limit float64) (float64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, errors.New("missing")
	}
	v, err := json.Number(s).Float64()
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > limit {
		return 0, fmt.Errorf("out of range: %v", v)
	}
	return v, nil
}

// DistanceKm returns the great-circle distance in km rounded to 2 decimals.
func DistanceKm(a, b Point) decimal.Decimal {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return decimal.NewFromFloat(EarthRadiusKm * c).Round(2)
}

// Tier is one fee band; MaxKm is an inclusive upper bound, zero means unbounded.
type Tier struct {
	Name  string
	MaxKm decimal.Decimal
	Fee   decimal.Decimal
}

// Calculator maps distances onto fee tiers.
type Calculator struct {
	tiers    []Tier
	currency string
}

// NewCalculator builds the A-D tier table from configuration.
func NewCalculator(cfg config.DeliveryConfig) *Calculator {
	return &Calculator{
		currency: cfg.Currency,
		tiers: []Tier{
			{Name: "A", MaxKm: decimal.NewFromFloat(cfg.TierAMax), Fee: cfg.TierAFee},
			{Name: "B", MaxKm: decimal.NewFromFloat(cfg.TierBMax), Fee: cfg.TierBFee},
			{Name: "C", MaxKm: decimal.NewFromFloat(cfg.TierCMax), Fee: cfg.TierCFee},
			{Name: "D", Fee: cfg.TierDFee},
		},
	}
}

// Quote is the result of a delivery cost calculation.
type Quote struct {
	DistanceKm decimal.Decimal `json:"distance_km"`
	Fee        decimal.Decimal `json:"delivery_fee"`
	Tier       string          `json:"tier"`
	Currency   string          `json:"currency"`
}

// TierFor picks the first tier whose bound is >= distance.
func (c *Calculator) TierFor(distanceKm decimal.Decimal) Tier {
	last := c.tiers[len(c.tiers)-1]
	for _, t := range c.tiers[:len(c.tiers)-1] {
		if distanceKm.LessThanOrEqual(t.MaxKm) {
			return t
		}
	}
	return last
}

// Quote computes distance and fee between two points.
func (c *Calculator) Quote(from, to Point) Quote {
	d := DistanceKm(from, to)
	t := c.TierFor(d)
	return Quote{DistanceKm: d, Fee: t.Fee, Tier: t.Name, Currency: c.currency}
}
