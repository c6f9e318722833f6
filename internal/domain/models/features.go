package models

import (
	"strings"
	"time"
)

// HarmonicCount is sin/cos at k=1,2 for the daily, weekly and annual periods.
const HarmonicCount = 12

// HarmonicNames indexes FeatureVector.Harmonics.
var HarmonicNames = [HarmonicCount]string{
	"daily_sin_1", "daily_cos_1", "daily_sin_2", "daily_cos_2",
	"weekly_sin_1", "weekly_cos_1", "weekly_sin_2", "weekly_cos_2",
	"annual_sin_1", "annual_cos_1", "annual_sin_2", "annual_cos_2",
}

// AuxFeature holds the derived lag and moving average of one daily series.
type AuxFeature struct {
	Lag24h *float64 `json:"lag_24h,omitempty"`
	MA7d   *float64 `json:"ma_7d,omitempty"`
}

// FeatureVector is derived from one TrainingRecord and its history. Every
// numeric field is finite or nil.
type FeatureVector struct {
	Timestamp time.Time `json:"timestamp"`
	Target    *float64  `json:"target,omitempty"`

	Harmonics [HarmonicCount]float64 `json:"harmonics"`

	Demand              *float64 `json:"demand,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	WindSpeed           *float64 `json:"wind_speed,omitempty"`
	CloudCover          *float64 `json:"cloud_cover,omitempty"`
	Reserves            *float64 `json:"reserves,omitempty"`
	Interchange         *float64 `json:"interchange,omitempty"`
	TotalGeneration     *float64 `json:"total_generation,omitempty"`
	RenewableGeneration *float64 `json:"renewable_generation,omitempty"`

	PriceLag1h     *float64 `json:"price_lag_1h,omitempty"`
	PriceLag24h    *float64 `json:"price_lag_24h,omitempty"`
	PriceLag168h   *float64 `json:"price_lag_168h,omitempty"`
	DemandLag24h   *float64 `json:"demand_lag_24h,omitempty"`
	RollingMean24h *float64 `json:"rolling_mean_24h,omitempty"`
	RollingStd24h  *float64 `json:"rolling_std_24h,omitempty"`
	// PriceWindow holds up to W prior hourly prices, oldest first, gaps
	// carried forward.
	PriceWindow []float64 `json:"price_window,omitempty"`

	Aux map[string]AuxFeature `json:"aux,omitempty"`

	PriceDemandRatio  *float64 `json:"price_demand_ratio,omitempty"`
	RenewableRatio    *float64 `json:"renewable_ratio,omitempty"`
	PriceToRollingAvg *float64 `json:"price_to_rolling_avg,omitempty"`

	PriceDemandCross *float64 `json:"price_demand_cross,omitempty"`
	TempDemandCross  *float64 `json:"temp_demand_cross,omitempty"`

	PriceBin     *int `json:"price_bin,omitempty"`
	DemandBin    *int `json:"demand_bin,omitempty"`
	HourBin      *int `json:"hour_bin,omitempty"`
	RenewableBin *int `json:"renewable_bin,omitempty"`
}

var baseInputs = []string{
	"demand", "temperature", "wind_speed", "cloud_cover", "reserves", "interchange",
	"total_generation", "renewable_generation",
	"price_lag_1h", "price_lag_24h", "price_lag_168h", "demand_lag_24h",
	"rolling_mean_24h", "rolling_std_24h",
	"renewable_ratio", "temp_demand_cross",
	"demand_bin", "hour_bin", "renewable_bin",
}

// InputNames lists the features models may consume. Features computed from
// the current hour's price are left out since the price is the target.
func InputNames(auxSeries []string) []string {
	names := make([]string, 0, HarmonicCount+len(baseInputs)+2*len(auxSeries))
	names = append(names, HarmonicNames[:]...)
	names = append(names, baseInputs...)
	for _, s := range auxSeries {
		names = append(names, "aux:"+s+":lag_24h", "aux:"+s+":ma_7d")
	}
	return names
}

// AuxNames returns the auxiliary series names present on v, unsorted.
func (v *FeatureVector) AuxNames() []string {
	out := make([]string, 0, len(v.Aux))
	for k := range v.Aux {
		out = append(out, k)
	}
	return out
}

// Lookup resolves a feature by name. ok is false when the feature is null
// or unknown.
func (v *FeatureVector) Lookup(name string) (float64, bool) {
	for i, h := range HarmonicNames {
		if h == name {
			return v.Harmonics[i], true
		}
	}
	if strings.HasPrefix(name, "aux:") {
		parts := strings.Split(name, ":")
		if len(parts) != 3 {
			return 0, false
		}
		a, ok := v.Aux[parts[1]]
		if !ok {
			return 0, false
		}
		switch parts[2] {
		case "lag_24h":
			return deref(a.Lag24h)
		case "ma_7d":
			return deref(a.MA7d)
		}
		return 0, false
	}

	switch name {
	case "price":
		return deref(v.Target)
	case "demand":
		return deref(v.Demand)
	case "temperature":
		return deref(v.Temperature)
	case "wind_speed":
		return deref(v.WindSpeed)
	case "cloud_cover":
		return deref(v.CloudCover)
	case "reserves":
		return deref(v.Reserves)
	case "interchange":
		return deref(v.Interchange)
	case "total_generation":
		return deref(v.TotalGeneration)
	case "renewable_generation":
		return deref(v.RenewableGeneration)
	case "price_lag_1h":
		return deref(v.PriceLag1h)
	case "price_lag_24h":
		return deref(v.PriceLag24h)
	case "price_lag_168h":
		return deref(v.PriceLag168h)
	case "demand_lag_24h":
		return deref(v.DemandLag24h)
	case "rolling_mean_24h":
		return deref(v.RollingMean24h)
	case "rolling_std_24h":
		return deref(v.RollingStd24h)
	case "price_demand_ratio":
		return deref(v.PriceDemandRatio)
	case "renewable_ratio":
		return deref(v.RenewableRatio)
	case "price_to_rolling_avg":
		return deref(v.PriceToRollingAvg)
	case "price_demand_cross":
		return deref(v.PriceDemandCross)
	case "temp_demand_cross":
		return deref(v.TempDemandCross)
	case "price_bin":
		return derefInt(v.PriceBin)
	case "demand_bin":
		return derefInt(v.DemandBin)
	case "hour_bin":
		return derefInt(v.HourBin)
	case "renewable_bin":
		return derefInt(v.RenewableBin)
	}
	return 0, false
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func derefInt(p *int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return float64(*p), true
}
