// Package evaluation computes forecast error metrics.
package evaluation

import (
	"math"

	"GridCast/internal/domain/models"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SMAPE is the symmetric mean absolute percentage error in [0, 200].
// Pairs where both values are zero contribute zero error.
func SMAPE(pred, actual []float64) float64 {
	n := min(len(pred), len(actual))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		den := math.Abs(actual[i]) + math.Abs(pred[i])
		if den == 0 {
			continue
		}
		sum += 200 * math.Abs(pred[i]-actual[i]) / den
	}
	return sum / float64(n)
}

// MAE is the mean absolute error.
func MAE(pred, actual []float64) float64 {
	n := min(len(pred), len(actual))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(pred[i] - actual[i])
	}
	return sum / float64(n)
}

// RMSE is the root mean squared error.
func RMSE(pred, actual []float64) float64 {
	n := min(len(pred), len(actual))
	if n == 0 {
		return 0
	}
	return floats.Norm(Residuals(pred, actual), 2) / math.Sqrt(float64(n))
}

// MAPE is the mean absolute percentage error over non-zero actuals.
func MAPE(pred, actual []float64) float64 {
	n := min(len(pred), len(actual))
	var (
		sum   float64
		count int
	)
	for i := 0; i < n; i++ {
		if actual[i] == 0 {
			continue
		}
		sum += 100 * math.Abs((pred[i]-actual[i])/actual[i])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// R2 is the coefficient of determination. A constant target yields 0.
func R2(pred, actual []float64) float64 {
	n := min(len(pred), len(actual))
	if n < 2 {
		return 0
	}
	r2 := stat.RSquaredFrom(pred[:n], actual[:n], nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		return 0
	}
	return r2
}

// Compute returns all metrics for one prediction series.
func Compute(pred, actual []float64) models.MetricSet {
	return models.MetricSet{
		MAE:   MAE(pred, actual),
		RMSE:  RMSE(pred, actual),
		MAPE:  MAPE(pred, actual),
		SMAPE: SMAPE(pred, actual),
		R2:    R2(pred, actual),
		Count: min(len(pred), len(actual)),
	}
}

// Residuals returns actual - pred.
func Residuals(pred, actual []float64) []float64 {
	n := min(len(pred), len(actual))
	return floats.SubTo(make([]float64, n), actual[:n], pred[:n])
}

// ResidualStd is the sample standard deviation of the residuals.
func ResidualStd(pred, actual []float64) float64 {
	r := Residuals(pred, actual)
	if len(r) < 2 {
		return 0
	}
	return stat.StdDev(r, nil)
}

// Aggregate combines metric sets, weighting by sample count.
func Aggregate(sets ...models.MetricSet) models.MetricSet {
	var (
		out   models.MetricSet
		total int
		sq    float64
	)
	for _, s := range sets {
		if s.Count == 0 {
			continue
		}
		w := float64(s.Count)
		out.MAE += s.MAE * w
		out.MAPE += s.MAPE * w
		out.SMAPE += s.SMAPE * w
		out.R2 += s.R2 * w
		sq += s.RMSE * s.RMSE * w
		total += s.Count
	}
	if total == 0 {
		return models.MetricSet{}
	}
	n := float64(total)
	out.MAE /= n
	out.MAPE /= n
	out.SMAPE /= n
	out.R2 /= n
	out.RMSE = math.Sqrt(sq / n)
	out.Count = total
	return out
}
