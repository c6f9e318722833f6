package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"GridCast/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func hourly(n int) []models.TrainingRecord {
	out := make([]models.TrainingRecord, n)
	for i := range out {
		out[i] = models.TrainingRecord{
			Timestamp:   t0.Add(time.Duration(i) * time.Hour),
			Price:       models.Float(40 + 10*math.Sin(2*math.Pi*float64(i)/24)),
			Demand:      models.Float(35000 + 100*float64(i%24)),
			GenGas:      models.Float(20000),
			GenWind:     models.Float(5000),
			GenSolar:    models.Float(3000),
			Temperature: models.Float(12),
			Valid:       true,
		}
	}
	return out
}

func TestDeriveCountAndHarmonicBounds(t *testing.T) {
	records := hourly(400)
	vectors, report := NewEngine(DefaultConfig()).Derive(records, nil)

	require.Len(t, vectors, len(records))
	assert.Equal(t, len(records), report.Succeeded)
	assert.Zero(t, report.Failed)
	for _, v := range vectors {
		for i, h := range v.Harmonics {
			assert.GreaterOrEqual(t, h, -1.0, models.HarmonicNames[i])
			assert.LessOrEqual(t, h, 1.0, models.HarmonicNames[i])
		}
	}
}

func TestDeriveLagsAreNullUntilHistoryExists(t *testing.T) {
	vectors, _ := NewEngine(DefaultConfig()).Derive(hourly(200), nil)

	assert.Nil(t, vectors[0].PriceLag1h)
	assert.Nil(t, vectors[0].RollingMean24h)
	assert.Nil(t, vectors[0].PriceWindow)
	assert.Nil(t, vectors[23].PriceLag24h)
	assert.Nil(t, vectors[MaxLagHours-1].PriceLag168h)

	require.NotNil(t, vectors[1].PriceLag1h)
	assert.InDelta(t, *vectors[0].Target, *vectors[1].PriceLag1h, 1e-12)
	require.NotNil(t, vectors[24].PriceLag24h)
	assert.InDelta(t, *vectors[0].Target, *vectors[24].PriceLag24h, 1e-12)
	require.NotNil(t, vectors[MaxLagHours].PriceLag168h)

	assert.Len(t, vectors[50].PriceWindow, 24)
	assert.InDelta(t, *vectors[49].Target, vectors[50].PriceWindow[23], 1e-12)
	require.NotNil(t, vectors[50].RollingStd24h)
}

func TestRenewableRatioNullWhenTotalIsZero(t *testing.T) {
	rec := models.TrainingRecord{
		Timestamp: t0,
		Price:     models.Float(50),
		GenGas:    models.Float(0),
		GenWind:   models.Float(0),
		Valid:     true,
	}
	vectors, report := NewEngine(DefaultConfig()).Derive([]models.TrainingRecord{rec}, nil)
	require.Len(t, vectors, 1)
	assert.Zero(t, report.Failed)
	assert.Nil(t, vectors[0].RenewableRatio)
	assert.Nil(t, vectors[0].RenewableBin)
}

func TestPriceDemandRatioUsesEpsilonFloor(t *testing.T) {
	rec := models.TrainingRecord{Timestamp: t0, Price: models.Float(30), Demand: models.Float(0), Valid: true}
	vectors, _ := NewEngine(DefaultConfig()).Derive([]models.TrainingRecord{rec}, nil)
	require.NotNil(t, vectors[0].PriceDemandRatio)
	assert.InDelta(t, 30.0, *vectors[0].PriceDemandRatio, 1e-12)
}

func TestCrossFeaturesAreScaled(t *testing.T) {
	rec := models.TrainingRecord{
		Timestamp:   t0,
		Price:       models.Float(50),
		Demand:      models.Float(40000),
		Temperature: models.Float(20),
		Valid:       true,
	}
	vectors, _ := NewEngine(DefaultConfig()).Derive([]models.TrainingRecord{rec}, nil)
	assert.InDelta(t, 50*40000/PriceDemandScale, *vectors[0].PriceDemandCross, 1e-9)
	assert.InDelta(t, 20*40000/TempDemandScale, *vectors[0].TempDemandCross, 1e-9)
}

func TestDeriveRejectsMalformedRecords(t *testing.T) {
	records := hourly(5)
	records[1].Temperature = models.Float(math.NaN())
	records[2].Demand = models.Float(math.Inf(1))
	records[3].Valid = false
	dup := records[4]
	records = append(records, dup)

	vectors, report := NewEngine(DefaultConfig()).Derive(records, nil)

	assert.Len(t, vectors, 2)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 6, report.Total())
	for _, item := range report.Items {
		if item.Status == models.ItemFailed {
			assert.NotEmpty(t, item.Reason)
		}
	}
}

func TestBuilderAppendErrors(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	_, err := b.Append(models.TrainingRecord{Timestamp: t0.Add(time.Hour), Valid: true})
	require.NoError(t, err)

	_, err = b.Append(models.TrainingRecord{Timestamp: t0, Valid: true})
	var fe *models.FeatureDerivationError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "timestamp out of order", fe.Reason)

	_, err = b.Append(models.TrainingRecord{Timestamp: t0.Add(2 * time.Hour), Price: models.Float(math.Inf(-1)), Valid: true})
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "price", fe.Field)

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), last)
}

func TestBuilderSetPriceFeedsLags(t *testing.T) {
	b := NewBuilder(DefaultConfig(), nil)
	_, err := b.Append(models.TrainingRecord{Timestamp: t0, Valid: true})
	require.NoError(t, err)
	b.SetPrice(t0, 42)

	v, err := b.Append(models.TrainingRecord{Timestamp: t0.Add(time.Hour), Valid: true})
	require.NoError(t, err)
	require.NotNil(t, v.PriceLag1h)
	assert.Equal(t, 42.0, *v.PriceLag1h)
}

func TestAuxFeaturesCarryForward(t *testing.T) {
	gas := models.DailySeries{Name: "gas", Values: map[string]float64{
		"2024-03-01": 2.0,
		"2024-03-03": 4.0,
	}}
	cfg := DefaultConfig()
	b := NewBuilder(cfg, []models.DailySeries{gas})

	// 2024-03-04: previous day is 03-03.
	v, err := b.Append(models.TrainingRecord{Timestamp: t0, Valid: true})
	require.NoError(t, err)
	require.NotNil(t, v.Aux["gas"].Lag24h)
	assert.Equal(t, 4.0, *v.Aux["gas"].Lag24h)
	// Days 03-03..02-26: 4, 2 (carried from 03-01), 2, then nothing.
	require.NotNil(t, v.Aux["gas"].MA7d)
	assert.InDelta(t, (4.0+2+2)/3, *v.Aux["gas"].MA7d, 1e-12)

	// 2024-03-06: previous day 03-05 carries 03-03.
	v, err = b.Append(models.TrainingRecord{Timestamp: t0.Add(48 * time.Hour), Valid: true})
	require.NoError(t, err)
	assert.Equal(t, 4.0, *v.Aux["gas"].Lag24h)
}

func TestAuxFeaturesNullOutsideLookback(t *testing.T) {
	gas := models.DailySeries{Name: "gas", Values: map[string]float64{"2024-01-01": 3}}
	b := NewBuilder(DefaultConfig(), []models.DailySeries{gas})
	v, err := b.Append(models.TrainingRecord{Timestamp: t0, Valid: true})
	require.NoError(t, err)
	assert.Nil(t, v.Aux["gas"].Lag24h)
	assert.Nil(t, v.Aux["gas"].MA7d)
}

func TestThresholdCodesAreMonotonic(t *testing.T) {
	th := DefaultConfig().Bins.Price
	prev := th.Code(-100)
	assert.Equal(t, 0, prev)
	for v := -50.0; v <= 400; v += 0.5 {
		code := th.Code(v)
		assert.GreaterOrEqual(t, code, prev)
		assert.Equal(t, code, th.Code(v))
		prev = code
	}
	assert.Equal(t, len(th), th.Code(1e9))
	assert.Equal(t, 1, th.Code(0))
	assert.Equal(t, 2, th.Code(25))
}

func TestStats(t *testing.T) {
	vectors, _ := NewEngine(DefaultConfig()).Derive(hourly(48), nil)
	stats := Stats(vectors, []string{"price", "temperature", "price_lag_168h"})
	require.Contains(t, stats, "price")
	assert.Equal(t, 48, stats["price"].Count)
	assert.InDelta(t, 12.0, stats["temperature"].Mean, 1e-12)
	assert.Zero(t, stats["temperature"].Std)
	assert.NotContains(t, stats, "price_lag_168h")
}

func TestInputNamesResolve(t *testing.T) {
	gas := models.DailySeries{Name: "gas", Values: map[string]float64{"2024-03-03": 4}}
	b := NewBuilder(DefaultConfig(), []models.DailySeries{gas})
	v, err := b.Append(hourly(1)[0])
	require.NoError(t, err)

	for _, name := range models.InputNames(b.AuxNames()) {
		assert.NotContains(t, []string{"price", "price_bin", "price_demand_ratio"}, name)
		_, _ = v.Lookup(name)
	}
	got, ok := v.Lookup("aux:gas:lag_24h")
	assert.True(t, ok)
	assert.Equal(t, 4.0, got)
	_, ok = v.Lookup("unknown")
	assert.False(t, ok)
}
