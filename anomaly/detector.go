package anomaly

import (
	"fmt"
	"sort"

	models "brewlytics/database/models_pkg"
	"brewlytics/database/registry"
	"brewlytics/ml"
)

// Severity buckets on the calibrated anomaly score.
const (
	SeverityCritical = "CRITICAL" // score >= 0.8
	SeverityHigh     = "HIGH"     // score >= 0.6
	SeverityMedium   = "MEDIUM"   // score >= 0.4
	SeverityLow      = "LOW"
)

// affectedZ is the standardized-deviation bar for naming a feature as a
// driver of an anomaly.
const affectedZ = 2.0

// Assessment is the outcome of scoring one day against the active model.
type Assessment struct {
	BranchID         int               `json:"branch_id"`
	IsAnomaly        bool              `json:"is_anomaly"`
	RawScore         float64           `json:"raw_score"`
	AnomalyScore     float64           `json:"anomaly_score"` // calibrated to [0,1], higher = more anomalous
	Severity         string            `json:"severity"`
	AffectedFeatures []AffectedFeature `json:"affected_features"`
	ModelID          int64             `json:"model_id"`
}

// AffectedFeature names one metric that deviated hard from its training
// distribution, with its direction.
type AffectedFeature struct {
	Name   string  `json:"name"`
	ZScore float64 `json:"z_score"`
	Value  float64 `json:"value"`
}

// Detector scores daily rows against a branch's active isolation forest.
type Detector struct {
	registry *registry.Repository
}

// NewDetector creates an anomaly detector.
func NewDetector(reg *registry.Repository) *Detector {
	return &Detector{registry: reg}
}

// Assess scores one metrics row against the branch's active model. Returns
// nil with no error when the branch has no active anomaly model yet.
func (d *Detector) Assess(row models.DailyBranchMetrics) (*Assessment, error) {
	active, err := d.registry.FindActive(row.BranchID, models.ModelTypeIsolationForest)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}
	bundle, err := DecodeArtefact(active.Artefact)
	if err != nil {
		return nil, err
	}
	a := bundle.Assess(row)
	a.ModelID = active.ID
	return a, nil
}

// Assess scores one row against this bundle. The anomaly score is one minus
// the empirical CDF of the raw score within the training distribution, so a
// day scoring below every training day gets 1.0 and a perfectly typical day
// gets something near 0.5 or lower.
func (b *Bundle) Assess(row models.DailyBranchMetrics) *Assessment {
	raw := make([]float64, len(b.Features))
	for i, name := range b.Features {
		raw[i], _ = ml.Value(row, name)
	}
	scaled := b.Scaler.Transform(raw)
	score := b.Forest.Score(scaled)

	a := &Assessment{
		BranchID:     row.BranchID,
		RawScore:     score,
		AnomalyScore: 1 - empiricalCDF(b.TrainScores, score),
		IsAnomaly:    score < b.Threshold,
	}
	a.Severity = severity(a.AnomalyScore)
	a.AffectedFeatures = affectedFeatures(b.Features, raw, scaled)
	return a
}

// Explain renders a short human-readable line for report composition.
func (a *Assessment) Explain() string {
	if !a.IsAnomaly {
		return "no anomaly detected"
	}
	msg := fmt.Sprintf("%s anomaly (score %.2f)", a.Severity, a.AnomalyScore)
	for i, f := range a.AffectedFeatures {
		if i == 0 {
			msg += ": "
		} else {
			msg += ", "
		}
		dir := "high"
		if f.ZScore < 0 {
			dir = "low"
		}
		msg += fmt.Sprintf("%s unusually %s", f.Name, dir)
	}
	return msg
}

// empiricalCDF returns the fraction of sorted training scores at or below v.
func empiricalCDF(sorted []float64, v float64) float64 {
	if len(sorted) == 0 {
		return 0.5
	}
	idx := sort.SearchFloat64s(sorted, v)
	// Count ties as at-or-below
	for idx < len(sorted) && sorted[idx] == v {
		idx++
	}
	return float64(idx) / float64(len(sorted))
}

func severity(score float64) string {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// affectedFeatures lists features whose standardized deviation exceeds the
// bar, strongest first.
func affectedFeatures(names []string, raw, scaled []float64) []AffectedFeature {
	var out []AffectedFeature
	for i, z := range scaled {
		if z >= affectedZ || z <= -affectedZ {
			out = append(out, AffectedFeature{Name: names[i], ZScore: z, Value: raw[i]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return abs(out[i].ZScore) > abs(out[j].ZScore)
	})
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
