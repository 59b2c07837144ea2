package forecast

import (
	"sort"
	"time"

	models "brewlytics/database/models_pkg"
	"brewlytics/ml"
)

// Frame is the two-column (ds, y) training frame plus aligned regressor
// columns. Rows are sorted ascending by ds and dates are unique: duplicate
// report dates coalesce to the last observed row.
type Frame struct {
	Dates      []time.Time
	Y          []float64
	Regressors map[string][]float64
}

// Len returns the number of usable training rows.
func (f *Frame) Len() int {
	return len(f.Dates)
}

// LastDate returns the final training ds. Only valid when Len() > 0.
func (f *Frame) LastDate() time.Time {
	return f.Dates[len(f.Dates)-1]
}

// LastRegressorValues returns the final observed value of every operational
// regressor, used to forward-fill future rows at serving time.
func (f *Frame) LastRegressorValues() map[string]float64 {
	last := make(map[string]float64, len(f.Regressors))
	for name, col := range f.Regressors {
		if len(col) > 0 {
			last[name] = col[len(col)-1]
		}
	}
	return last
}

// Slice returns the sub-frame covering rows [from, to).
func (f *Frame) Slice(from, to int) *Frame {
	sub := &Frame{
		Dates:      f.Dates[from:to],
		Y:          f.Y[from:to],
		Regressors: make(map[string][]float64, len(f.Regressors)),
	}
	for name, col := range f.Regressors {
		sub.Regressors[name] = col[from:to]
	}
	return sub
}

// BuildFrame assembles the training frame for a target metric over a metric
// window. Rows with a zero date are dropped, the rest are sorted ascending,
// and duplicate dates collapse last-wins. The target is never admitted as a
// regressor, whatever the requested list says.
func BuildFrame(rows []models.DailyBranchMetrics, target string, regressors []string) (*Frame, error) {
	if !ml.KnownMetric(target) {
		return nil, &ml.ValidationError{Field: "target", Reason: "unknown metric " + target}
	}

	// Last-wins dedupe on ds
	byDate := make(map[time.Time]models.DailyBranchMetrics, len(rows))
	for _, row := range rows {
		if row.ReportDate.IsZero() {
			continue
		}
		byDate[dateOnly(row.ReportDate)] = row
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	frame := &Frame{
		Dates:      make([]time.Time, 0, len(dates)),
		Y:          make([]float64, 0, len(dates)),
		Regressors: make(map[string][]float64),
	}

	kept := keepRegressors(target, regressors)
	for _, name := range kept {
		frame.Regressors[name] = make([]float64, 0, len(dates))
	}

	for _, d := range dates {
		row := byDate[d]
		y, _ := ml.Value(row, target)
		frame.Dates = append(frame.Dates, d)
		frame.Y = append(frame.Y, y)
		for _, name := range kept {
			v, _ := ml.Value(row, name)
			frame.Regressors[name] = append(frame.Regressors[name], v)
		}
	}

	return frame, nil
}

// keepRegressors filters the requested regressor list: drop unknown metrics
// and drop the target itself (leakage guard).
func keepRegressors(target string, requested []string) []string {
	var kept []string
	seen := make(map[string]bool)
	for _, name := range requested {
		if name == target || seen[name] || !ml.KnownMetric(name) {
			continue
		}
		seen[name] = true
		kept = append(kept, name)
	}
	return kept
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
