package anomaly

import (
	"math"

	"brewlytics/ml"
)

// Scaler standardizes feature columns to zero mean and unit variance. The
// fitted moments travel inside the model artefact so scoring always uses the
// training-time distribution.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column moments over the training matrix. Constant
// columns get std=1 so they scale to zero instead of dividing by zero.
func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, &ml.ValidationError{Field: "feature_matrix", Reason: "empty"}
	}
	n := len(x)
	p := len(x[0])

	s := &Scaler{
		Mean: make([]float64, p),
		Std:  make([]float64, p),
	}
	for _, row := range x {
		for j := 0; j < p; j++ {
			s.Mean[j] += row[j]
		}
	}
	for j := 0; j < p; j++ {
		s.Mean[j] /= float64(n)
	}
	for _, row := range x {
		for j := 0; j < p; j++ {
			d := row[j] - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := 0; j < p; j++ {
		s.Std[j] = math.Sqrt(s.Std[j] / float64(n))
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return s, nil
}

// Transform standardizes one row in place-safe fashion, returning a new
// slice.
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		out[j] = (row[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}
