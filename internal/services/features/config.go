package features

import (
	"sort"

	"GridCast/pkg/config"
)

// Normalizing constants for cross features. Price is in $/MWh, demand in MW
// and temperature in °C, so raw products land in the 1e5..1e7 range.
const (
	PriceDemandScale = 100000.0
	TempDemandScale  = 10000.0
)

const (
	lag1h   = 1
	lag24h  = 24
	lag168h = 168
	// MaxLagHours is the deepest price lag. The first MaxLagHours rows of a
	// series have a nil PriceLag168h.
	MaxLagHours = lag168h
	auxMADays   = 7
)

// Thresholds is an ascending list of bin edges. A value's code is the
// number of edges at or below it, so codes run from 0 to len(t).
type Thresholds []float64

// Code returns the bin code of v.
func (t Thresholds) Code(v float64) int {
	return sort.Search(len(t), func(i int) bool { return t[i] > v })
}

// Bins groups the threshold tables per binned feature.
type Bins struct {
	Price     Thresholds
	Demand    Thresholds
	Hour      Thresholds
	Renewable Thresholds
}

// Config controls feature derivation.
type Config struct {
	SequenceWindow  int
	Epsilon         float64
	AuxLookbackDays int
	Bins            Bins
}

// DefaultConfig mirrors the configuration file defaults.
func DefaultConfig() Config {
	return Config{
		SequenceWindow:  24,
		Epsilon:         1.0,
		AuxLookbackDays: 7,
		Bins: Bins{
			Price:     Thresholds{0, 25, 50, 75, 100, 150, 250},
			Demand:    Thresholds{20000, 30000, 40000, 50000, 60000},
			Hour:      Thresholds{6, 12, 18, 22},
			Renewable: Thresholds{0.1, 0.25, 0.4, 0.6},
		},
	}
}

// ConfigFrom builds a Config from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		SequenceWindow:  c.Features.SequenceWindow,
		Epsilon:         c.Features.Epsilon,
		AuxLookbackDays: c.Features.AuxLookbackDay,
		Bins: Bins{
			Price:     c.Features.PriceBins,
			Demand:    c.Features.DemandBins,
			Hour:      c.Features.HourBins,
			Renewable: c.Features.RenewableBins,
		},
	}
}
