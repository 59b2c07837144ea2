package forecast

import "math"

// BacktestMetrics are the hold-out error metrics attached to every persisted
// forecast model and serving result.
type BacktestMetrics struct {
	MAE  float64 `json:"mae"`
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
}

// computeMetrics scores predictions against actuals. MAPE skips zero
// actuals so a closed day does not blow up the percentage.
func computeMetrics(actual, predicted []float64) BacktestMetrics {
	n := len(actual)
	if n == 0 || n != len(predicted) {
		return BacktestMetrics{}
	}

	var absSum, sqSum, pctSum float64
	pctN := 0
	for i := 0; i < n; i++ {
		diff := predicted[i] - actual[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if actual[i] != 0 {
			pctSum += math.Abs(diff / actual[i])
			pctN++
		}
	}

	m := BacktestMetrics{
		MAE: absSum / float64(n),
		MSE: sqSum / float64(n),
	}
	m.RMSE = math.Sqrt(m.MSE)
	if pctN > 0 {
		m.MAPE = pctSum / float64(pctN) * 100
	}
	return m
}

// empiricalCoverage is the fraction of actuals falling inside their
// predicted interval.
func empiricalCoverage(actual, lower, upper []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	hits := 0
	for i := range actual {
		if actual[i] >= lower[i] && actual[i] <= upper[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(actual))
}
