package forecast

import (
	"math"

	"brewlytics/ml"
)

// solveRidge solves (XᵀX + λI)β = Xᵀy by Gaussian elimination with partial
// pivoting. The intercept column (index 0) is never regularized. A tiny
// jitter keeps the system non-singular when λ = 0 and columns are collinear.
func solveRidge(x [][]float64, y []float64, lambda float64) ([]float64, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, &ml.ValidationError{Field: "design_matrix", Reason: "empty"}
	}
	n := len(x)
	p := len(x[0])

	// Normal equations
	a := make([][]float64, p)
	b := make([]float64, p)
	for i := 0; i < p; i++ {
		a[i] = make([]float64, p)
	}
	for r := 0; r < n; r++ {
		row := x[r]
		for i := 0; i < p; i++ {
			b[i] += row[i] * y[r]
			for j := i; j < p; j++ {
				a[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < p; i++ {
		for j := 0; j < i; j++ {
			a[i][j] = a[j][i]
		}
	}

	reg := lambda
	if reg <= 0 {
		reg = 1e-8
	}
	for i := 1; i < p; i++ {
		a[i][i] += reg
	}
	a[0][0] += 1e-12

	// Gaussian elimination with partial pivoting
	for col := 0; col < p; col++ {
		pivot := col
		for r := col + 1; r < p; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-14 {
			return nil, &ml.ValidationError{Field: "design_matrix", Reason: "singular system"}
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		inv := 1 / a[col][col]
		for r := col + 1; r < p; r++ {
			factor := a[r][col] * inv
			if factor == 0 {
				continue
			}
			for c := col; c < p; c++ {
				a[r][c] -= factor * a[col][c]
			}
			b[r] -= factor * b[col]
		}
	}

	beta := make([]float64, p)
	for i := p - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < p; j++ {
			sum -= a[i][j] * beta[j]
		}
		beta[i] = sum / a[i][i]
	}
	return beta, nil
}
