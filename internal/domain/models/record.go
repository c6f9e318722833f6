package models

import (
	"math"
	"time"
)

// DateLayout keys auxiliary daily series.
const DateLayout = "2006-01-02"

// TrainingRecord is one hourly observation of the market and the weather.
// Nil fields were not reported by the upstream source.
type TrainingRecord struct {
	Timestamp time.Time `json:"timestamp"`

	Price       *float64 `json:"price,omitempty"`
	Demand      *float64 `json:"demand,omitempty"`
	GenCoal     *float64 `json:"gen_coal,omitempty"`
	GenGas      *float64 `json:"gen_gas,omitempty"`
	GenNuclear  *float64 `json:"gen_nuclear,omitempty"`
	GenHydro    *float64 `json:"gen_hydro,omitempty"`
	GenWind     *float64 `json:"gen_wind,omitempty"`
	GenSolar    *float64 `json:"gen_solar,omitempty"`
	GenOther    *float64 `json:"gen_other,omitempty"`
	Reserves    *float64 `json:"reserves,omitempty"`
	Interchange *float64 `json:"interchange,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	WindSpeed   *float64 `json:"wind_speed,omitempty"`
	CloudCover  *float64 `json:"cloud_cover,omitempty"`

	Valid bool `json:"valid"`
}

// Observed lists every nullable observable with its field name.
func (r *TrainingRecord) Observed() []NamedValue {
	return []NamedValue{
		{"price", r.Price},
		{"demand", r.Demand},
		{"gen_coal", r.GenCoal},
		{"gen_gas", r.GenGas},
		{"gen_nuclear", r.GenNuclear},
		{"gen_hydro", r.GenHydro},
		{"gen_wind", r.GenWind},
		{"gen_solar", r.GenSolar},
		{"gen_other", r.GenOther},
		{"reserves", r.Reserves},
		{"interchange", r.Interchange},
		{"temperature", r.Temperature},
		{"wind_speed", r.WindSpeed},
		{"cloud_cover", r.CloudCover},
	}
}

// NonFinite returns the name of the first NaN or infinite field, if any.
func (r *TrainingRecord) NonFinite() (string, bool) {
	for _, nv := range r.Observed() {
		if nv.Value != nil && !IsFinite(*nv.Value) {
			return nv.Name, true
		}
	}
	return "", false
}

// TotalGeneration sums all reported fuel types. ok is false when no fuel
// type was reported.
func (r *TrainingRecord) TotalGeneration() (float64, bool) {
	return sumPresent(r.GenCoal, r.GenGas, r.GenNuclear, r.GenHydro, r.GenWind, r.GenSolar, r.GenOther)
}

// RenewableGeneration sums hydro, wind and solar.
func (r *TrainingRecord) RenewableGeneration() (float64, bool) {
	return sumPresent(r.GenHydro, r.GenWind, r.GenSolar)
}

// NamedValue pairs a field name with a nullable value.
type NamedValue struct {
	Name  string
	Value *float64
}

// DailySeries is an auxiliary input keyed by calendar date (UTC), e.g. a
// fuel price.
type DailySeries struct {
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

// Lookup returns the value for the calendar day of t.
func (s DailySeries) Lookup(t time.Time) (float64, bool) {
	v, ok := s.Values[t.UTC().Format(DateLayout)]
	return v, ok
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sumPresent(vals ...*float64) (float64, bool) {
	var (
		sum  float64
		seen bool
	)
	for _, v := range vals {
		if v == nil {
			continue
		}
		sum += *v
		seen = true
	}
	return sum, seen
}
