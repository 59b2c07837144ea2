package forecast

import (
	"context"
	"log"
	"time"

	"brewlytics/ml"
)

// Coverage penalty defaults. A candidate whose validation interval coverage
// drops below MinCoverage pays CoverageWeight per missing point of coverage,
// so narrow-but-wrong intervals cannot win on MAE alone.
const (
	defaultMinCoverage    = 0.80
	defaultCoverageWeight = 10.0
)

// TuningOptions bounds a grid search run. Zero values fall back to defaults.
type TuningOptions struct {
	NTrials         int
	Timeout         time.Duration
	ValidationRatio float64
	MinCoverage     float64
	CoverageWeight  float64
}

// withDefaults normalizes unset fields.
func (o TuningOptions) withDefaults() TuningOptions {
	if o.ValidationRatio <= 0 || o.ValidationRatio >= 1 {
		o.ValidationRatio = 0.2
	}
	if o.MinCoverage <= 0 || o.MinCoverage > 1 {
		o.MinCoverage = defaultMinCoverage
	}
	if o.CoverageWeight <= 0 {
		o.CoverageWeight = defaultCoverageWeight
	}
	return o
}

// TuningResult is the winning grid point plus its validation scores.
type TuningResult struct {
	Params   Hyperparams `json:"params"`
	Score    float64     `json:"score"`
	MAE      float64     `json:"mae"`
	Coverage float64     `json:"coverage"`
	Trials   int         `json:"trials"`
}

// Grid enumerates candidate hyper-parameter points in a fixed order, seeded
// from the configured defaults. The configured mode always comes first so a
// single-trial budget degenerates to the default configuration.
func Grid(defaults Hyperparams) []Hyperparams {
	modes := []string{ModeAdditive, ModeMultiplicative}
	if defaults.SeasonalityMode == ModeMultiplicative {
		modes = []string{ModeMultiplicative, ModeAdditive}
	}
	lambdas := []float64{0.0, 0.1, 1.0}
	widths := []float64{0.80, 0.90, 0.95}
	orders := []int{3, 5, 10}
	if !defaults.YearlySeasonality {
		orders = []int{defaults.FourierOrder}
	}

	var grid []Hyperparams
	for _, mode := range modes {
		for _, order := range orders {
			for _, lambda := range lambdas {
				for _, width := range widths {
					hp := defaults
					hp.SeasonalityMode = mode
					hp.FourierOrder = order
					hp.RidgeLambda = lambda
					hp.IntervalWidth = width
					grid = append(grid, hp)
				}
			}
		}
	}
	return grid
}

// Tune runs a time-ordered hold-out search over the grid: each candidate is
// fitted on the leading (1 - ValidationRatio) slice of the frame and scored
// on the trailing slice. Lower score wins; ties break on lower MAE, then on
// the narrower interval. The search never exceeds NTrials candidates and
// returns the best seen so far when the timeout or ctx expires.
func Tune(ctx context.Context, frame *Frame, regressors []string, defaults Hyperparams, opts TuningOptions) (*TuningResult, error) {
	opts = opts.withDefaults()
	cut := frame.Len() - int(float64(frame.Len())*opts.ValidationRatio)
	if cut < 2 || cut >= frame.Len() {
		return nil, &ml.InsufficientDataError{Required: 5, Got: frame.Len()}
	}
	train := frame.Slice(0, cut)
	valid := frame.Slice(cut, frame.Len())

	grid := Grid(defaults)
	budget := opts.NTrials
	if budget <= 0 || budget > len(grid) {
		budget = len(grid)
	}

	deadline := time.Time{}
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	var best *TuningResult
	trials := 0
	for _, hp := range grid[:budget] {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Printf("⚠️  Tuning timeout after %d/%d trials, keeping best so far", trials, budget)
			break
		}
		trials++

		res, err := scoreCandidate(train, valid, regressors, hp, opts)
		if err != nil {
			continue
		}
		if best == nil || better(res, best) {
			best = res
		}
	}

	if best == nil {
		return nil, &ml.ValidationError{Field: "tuning", Reason: "no candidate produced a valid fit"}
	}
	best.Trials = trials
	return best, nil
}

func scoreCandidate(train, valid *Frame, regressors []string, hp Hyperparams, opts TuningOptions) (*TuningResult, error) {
	m, err := Fit(train, regressors, hp)
	if err != nil {
		return nil, err
	}

	n := valid.Len()
	predicted := make([]float64, n)
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := i
		predicted[i], lower[i], upper[i] = m.PredictRow(valid.Dates[i], func(name string) float64 {
			return valid.Regressors[name][idx]
		})
	}

	metrics := computeMetrics(valid.Y, predicted)
	cov := empiricalCoverage(valid.Y, lower, upper)
	score := metrics.MAE
	if cov < opts.MinCoverage {
		score += opts.CoverageWeight * (opts.MinCoverage - cov)
	}
	return &TuningResult{Params: hp, Score: score, MAE: metrics.MAE, Coverage: cov}, nil
}

func better(a, b *TuningResult) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.MAE != b.MAE {
		return a.MAE < b.MAE
	}
	return a.Params.IntervalWidth < b.Params.IntervalWidth
}
