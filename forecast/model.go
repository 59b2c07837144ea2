package forecast

import (
	"math"
	"time"

	"brewlytics/ml"
)

// Seasonality modes, matching the FORECAST_SEASONALITY_MODE setting.
const (
	ModeAdditive       = "additive"
	ModeMultiplicative = "multiplicative"
)

const daysPerYear = 365.25

// Hyperparams is one point of the tuning grid. The winning point is
// persisted verbatim in ml_models.hyperparameters.
type Hyperparams struct {
	SeasonalityMode   string  `json:"seasonality_mode"`
	WeeklySeasonality bool    `json:"weekly_seasonality"`
	YearlySeasonality bool    `json:"yearly_seasonality"`
	FourierOrder      int     `json:"fourier_order"`
	RidgeLambda       float64 `json:"ridge_lambda"`
	IntervalWidth     float64 `json:"interval_width"`
}

// Model is a fitted additive time-series model: linear trend, day-of-week
// dummies, yearly Fourier terms, and optional exogenous regressors, solved
// as one least-squares system. Multiplicative mode fits on log1p(y) and
// inverts predictions with expm1, which keeps interval ordering intact.
//
// Model satisfies the Forecaster capability set: any backend that can fit a
// frame and emit (yhat, lower, upper) can replace it behind the trainer.
type Model struct {
	Params     Hyperparams `json:"params"`
	Target     string      `json:"target"`
	Regressors []string    `json:"regressors"` // ordered, never contains Target

	Coef        []float64 `json:"coef"`
	ResidualStd float64   `json:"residual_std"`

	TrainStart time.Time          `json:"train_start"`
	TrainEnd   time.Time          `json:"train_end"`
	LastDS     time.Time          `json:"last_ds"`
	LastRegs   map[string]float64 `json:"last_regs"` // forward-fill seeds
	Samples    int                `json:"samples"`
}

// Forecaster is the capability set the serving path depends on.
type Forecaster interface {
	PredictRow(date time.Time, regValue func(name string) float64) (yhat, lower, upper float64)
	Horizon(days int) ([]time.Time, []float64, []float64, []float64)
}

// Fit trains a model on a frame with the given hyper-parameters.
func Fit(frame *Frame, regressors []string, hp Hyperparams) (*Model, error) {
	if frame.Len() == 0 {
		return nil, &ml.InsufficientDataError{Required: 1, Got: 0}
	}

	m := &Model{
		Params:     hp,
		Regressors: append([]string(nil), regressors...),
		TrainStart: frame.Dates[0],
		TrainEnd:   frame.LastDate(),
		LastDS:     frame.LastDate(),
		LastRegs:   frame.LastRegressorValues(),
		Samples:    frame.Len(),
	}

	x := make([][]float64, frame.Len())
	y := make([]float64, frame.Len())
	for i := range frame.Dates {
		x[i] = m.designRow(frame.Dates[i], func(name string) float64 {
			return frame.Regressors[name][i]
		})
		y[i] = m.transform(frame.Y[i])
	}

	coef, err := solveRidge(x, y, hp.RidgeLambda)
	if err != nil {
		return nil, err
	}
	m.Coef = coef

	// Residual spread on the fitting scale drives the intervals
	var ss float64
	for i := range x {
		r := y[i] - dot(coef, x[i])
		ss += r * r
	}
	dof := float64(frame.Len() - len(coef))
	if dof < 1 {
		dof = 1
	}
	m.ResidualStd = math.Sqrt(ss / dof)

	return m, nil
}

// PredictRow predicts a single future date. regValue supplies regressor
// values by name; nil means forward-fill from the training frame.
func (m *Model) PredictRow(date time.Time, regValue func(name string) float64) (yhat, lower, upper float64) {
	if regValue == nil {
		regValue = m.forwardFill
	}
	row := m.designRow(date, regValue)
	mid := dot(m.Coef, row)
	z := intervalZ(m.Params.IntervalWidth)
	lo := mid - z*m.ResidualStd
	hi := mid + z*m.ResidualStd
	return m.invert(mid), m.invert(lo), m.invert(hi)
}

// Horizon produces the F future dates after the last training ds together
// with aligned point and interval sequences. F = 0 yields empty, well-formed
// slices.
func (m *Model) Horizon(days int) ([]time.Time, []float64, []float64, []float64) {
	dates := make([]time.Time, 0, days)
	yhat := make([]float64, 0, days)
	lower := make([]float64, 0, days)
	upper := make([]float64, 0, days)
	for i := 1; i <= days; i++ {
		d := m.LastDS.AddDate(0, 0, i)
		p, lo, hi := m.PredictRow(d, nil)
		dates = append(dates, d)
		yhat = append(yhat, p)
		lower = append(lower, lo)
		upper = append(upper, hi)
	}
	return dates, yhat, lower, upper
}

// forwardFill resolves a future regressor value: calendar regressors are
// recomputed from the date at the call site, operational ones repeat their
// last observed value, anything never observed is 0.
func (m *Model) forwardFill(name string) float64 {
	if v, ok := m.LastRegs[name]; ok {
		return v
	}
	return 0
}

// designRow lays out one row of the design matrix. Column order is fixed:
// intercept, trend, weekly dummies, yearly Fourier pairs, then regressors in
// m.Regressors order. Calendar regressors are always derived from the date,
// which is what makes them extrapolate deterministically.
func (m *Model) designRow(date time.Time, regValue func(name string) float64) []float64 {
	row := make([]float64, 0, m.designWidth())
	row = append(row, 1)
	row = append(row, date.Sub(m.TrainStart).Hours()/24)

	if m.Params.WeeklySeasonality {
		wd := mondayIndexed(date) // 1..7
		for d := 1; d <= 6; d++ {
			if wd == d {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
	}

	if m.Params.YearlySeasonality {
		yday := float64(date.YearDay())
		for k := 1; k <= m.Params.FourierOrder; k++ {
			arg := 2 * math.Pi * float64(k) * yday / daysPerYear
			row = append(row, math.Sin(arg), math.Cos(arg))
		}
	}

	for _, name := range m.Regressors {
		row = append(row, m.regressorValue(name, date, regValue))
	}
	return row
}

func (m *Model) regressorValue(name string, date time.Time, regValue func(name string) float64) float64 {
	switch name {
	case "is_weekend":
		if wd := mondayIndexed(date); wd >= 6 {
			return 1
		}
		return 0
	case "day_of_week":
		return float64(mondayIndexed(date) - 1) // 0..6
	case "month":
		return float64(date.Month())
	default:
		return regValue(name)
	}
}

func (m *Model) designWidth() int {
	w := 2
	if m.Params.WeeklySeasonality {
		w += 6
	}
	if m.Params.YearlySeasonality {
		w += 2 * m.Params.FourierOrder
	}
	return w + len(m.Regressors)
}

func (m *Model) transform(y float64) float64 {
	if m.Params.SeasonalityMode == ModeMultiplicative {
		if y < 0 {
			y = 0
		}
		return math.Log1p(y)
	}
	return y
}

func (m *Model) invert(v float64) float64 {
	if m.Params.SeasonalityMode == ModeMultiplicative {
		return math.Expm1(v)
	}
	return v
}

// mondayIndexed maps a date to 1..7 with Monday=1.
func mondayIndexed(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// intervalZ converts a two-sided interval width into the matching normal
// quantile, e.g. 0.8 -> 1.2816.
func intervalZ(width float64) float64 {
	if width <= 0 || width >= 1 {
		return 1.96
	}
	return math.Sqrt2 * math.Erfinv(width)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
