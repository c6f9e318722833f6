package features

import (
	"sort"
	"time"

	"GridCast/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// Builder derives feature vectors one record at a time. It keeps the price
// and demand history needed for lags, so records must arrive in strictly
// ascending timestamp order. A Builder is not safe for concurrent use.
type Builder struct {
	cfg Config
	aux []models.DailySeries

	prices map[int64]float64
	demand map[int64]float64
	order  []int64

	last    time.Time
	started bool
}

// NewBuilder returns a Builder over the given auxiliary series.
func NewBuilder(cfg Config, aux []models.DailySeries) *Builder {
	if cfg.SequenceWindow <= 0 {
		cfg.SequenceWindow = DefaultConfig().SequenceWindow
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultConfig().Epsilon
	}
	if cfg.AuxLookbackDays <= 0 {
		cfg.AuxLookbackDays = DefaultConfig().AuxLookbackDays
	}
	sorted := append([]models.DailySeries(nil), aux...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	return &Builder{
		cfg:    cfg,
		aux:    sorted,
		prices: make(map[int64]float64),
		demand: make(map[int64]float64),
	}
}

// AuxNames returns the auxiliary series names in derivation order.
func (b *Builder) AuxNames() []string {
	names := make([]string, len(b.aux))
	for i, s := range b.aux {
		names[i] = s.Name
	}
	return names
}

// Last returns the timestamp of the last accepted record.
func (b *Builder) Last() (time.Time, bool) {
	return b.last, b.started
}

// Append validates rec and derives its feature vector from the history seen
// so far. Rejected records leave the builder unchanged.
func (b *Builder) Append(rec models.TrainingRecord) (models.FeatureVector, error) {
	if b.started && !rec.Timestamp.After(b.last) {
		reason := "timestamp out of order"
		if rec.Timestamp.Equal(b.last) {
			reason = "duplicate timestamp"
		}
		return models.FeatureVector{}, &models.FeatureDerivationError{Timestamp: rec.Timestamp, Reason: reason}
	}
	if field, bad := rec.NonFinite(); bad {
		return models.FeatureVector{}, &models.FeatureDerivationError{
			Timestamp: rec.Timestamp,
			Field:     field,
			Reason:    "non-finite value",
		}
	}

	v := b.derive(rec)

	key := rec.Timestamp.Unix()
	if rec.Price != nil {
		b.prices[key] = *rec.Price
	}
	if rec.Demand != nil {
		b.demand[key] = *rec.Demand
	}
	b.order = append(b.order, key)
	b.last = rec.Timestamp
	b.started = true
	b.prune()

	return v, nil
}

// SetPrice records a price for an already appended timestamp. Recursive
// forecasts use it to feed predictions back as lags.
func (b *Builder) SetPrice(t time.Time, price float64) {
	if !models.IsFinite(price) {
		return
	}
	b.prices[t.Unix()] = price
}

func (b *Builder) derive(rec models.TrainingRecord) models.FeatureVector {
	t := rec.Timestamp
	v := models.FeatureVector{
		Timestamp:   t,
		Target:      copyFloat(rec.Price),
		Harmonics:   Harmonics(t),
		Demand:      copyFloat(rec.Demand),
		Temperature: copyFloat(rec.Temperature),
		WindSpeed:   copyFloat(rec.WindSpeed),
		CloudCover:  copyFloat(rec.CloudCover),
		Reserves:    copyFloat(rec.Reserves),
		Interchange: copyFloat(rec.Interchange),
	}

	total, hasTotal := rec.TotalGeneration()
	renewable, hasRenewable := rec.RenewableGeneration()
	if hasTotal {
		v.TotalGeneration = finite(total)
	}
	if hasRenewable {
		v.RenewableGeneration = finite(renewable)
	}

	v.PriceLag1h = b.lookup(b.prices, t, lag1h)
	v.PriceLag24h = b.lookup(b.prices, t, lag24h)
	v.PriceLag168h = b.lookup(b.prices, t, lag168h)
	v.DemandLag24h = b.lookup(b.demand, t, lag24h)
	v.RollingMean24h, v.RollingStd24h = b.rolling(t, lag24h)
	v.PriceWindow = b.window(t)

	if len(b.aux) > 0 {
		v.Aux = make(map[string]models.AuxFeature, len(b.aux))
		for _, s := range b.aux {
			v.Aux[s.Name] = b.auxFeature(s, t)
		}
	}

	// Ratios.
	if rec.Price != nil && rec.Demand != nil {
		d := *rec.Demand
		if d < b.cfg.Epsilon {
			d = b.cfg.Epsilon
		}
		v.PriceDemandRatio = finite(*rec.Price / d)
	}
	if hasTotal && hasRenewable && total != 0 {
		v.RenewableRatio = finite(renewable / total)
	}
	if rec.Price != nil && v.RollingMean24h != nil && *v.RollingMean24h != 0 {
		v.PriceToRollingAvg = finite(*rec.Price / *v.RollingMean24h)
	}

	// Crosses.
	if rec.Price != nil && rec.Demand != nil {
		v.PriceDemandCross = finite(*rec.Price * *rec.Demand / PriceDemandScale)
	}
	if rec.Temperature != nil && rec.Demand != nil {
		v.TempDemandCross = finite(*rec.Temperature * *rec.Demand / TempDemandScale)
	}

	// Bins.
	if rec.Price != nil {
		v.PriceBin = models.Int(b.cfg.Bins.Price.Code(*rec.Price))
	}
	if rec.Demand != nil {
		v.DemandBin = models.Int(b.cfg.Bins.Demand.Code(*rec.Demand))
	}
	v.HourBin = models.Int(b.cfg.Bins.Hour.Code(float64(t.UTC().Hour())))
	if v.RenewableRatio != nil {
		v.RenewableBin = models.Int(b.cfg.Bins.Renewable.Code(*v.RenewableRatio))
	}

	return v
}

func (b *Builder) lookup(series map[int64]float64, t time.Time, hours int) *float64 {
	val, ok := series[t.Add(-time.Duration(hours)*time.Hour).Unix()]
	if !ok {
		return nil
	}
	return models.Float(val)
}

// rolling returns mean and sample std of prices in (t-hours, t). The std
// needs at least two points.
func (b *Builder) rolling(t time.Time, hours int) (*float64, *float64) {
	vals := make([]float64, 0, hours)
	for h := 1; h <= hours; h++ {
		if p, ok := b.prices[t.Add(-time.Duration(h)*time.Hour).Unix()]; ok {
			vals = append(vals, p)
		}
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if len(vals) == 1 {
		return models.Float(vals[0]), nil
	}
	mean, std := stat.MeanStdDev(vals, nil)
	return finite(mean), finite(std)
}

func (b *Builder) window(t time.Time) []float64 {
	w := b.cfg.SequenceWindow
	out := make([]float64, 0, w)
	var (
		prev float64
		seen bool
	)
	for h := w; h >= 1; h-- {
		p, ok := b.prices[t.Add(-time.Duration(h)*time.Hour).Unix()]
		switch {
		case ok:
			prev, seen = p, true
			out = append(out, p)
		case seen:
			out = append(out, prev)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *Builder) auxFeature(s models.DailySeries, t time.Time) models.AuxFeature {
	day := time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
	prev := day.AddDate(0, 0, -1)

	var f models.AuxFeature
	if v, ok := b.auxAsOf(s, prev); ok {
		f.Lag24h = finite(v)
	}

	var sum float64
	var n int
	for i := 0; i < auxMADays; i++ {
		if v, ok := b.auxAsOf(s, prev.AddDate(0, 0, -i)); ok {
			sum += v
			n++
		}
	}
	if n > 0 {
		f.MA7d = finite(sum / float64(n))
	}
	return f
}

// auxAsOf returns the series value on day, carrying the latest earlier
// value forward within the lookback window.
func (b *Builder) auxAsOf(s models.DailySeries, day time.Time) (float64, bool) {
	for i := 0; i < b.cfg.AuxLookbackDays; i++ {
		if v, ok := s.Values[day.AddDate(0, 0, -i).Format(models.DateLayout)]; ok && models.IsFinite(v) {
			return v, true
		}
	}
	return 0, false
}

// prune drops history older than the deepest lag.
func (b *Builder) prune() {
	horizon := b.cfg.SequenceWindow
	if horizon < MaxLagHours {
		horizon = MaxLagHours
	}
	cutoff := b.last.Add(-time.Duration(horizon+1) * time.Hour).Unix()
	i := 0
	for i < len(b.order) && b.order[i] < cutoff {
		delete(b.prices, b.order[i])
		delete(b.demand, b.order[i])
		i++
	}
	if i > 0 {
		b.order = append(b.order[:0], b.order[i:]...)
	}
}

func finite(v float64) *float64 {
	if !models.IsFinite(v) {
		return nil
	}
	return models.Float(v)
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return models.Float(*p)
}
