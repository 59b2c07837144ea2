package anomaly

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sort"
	"time"

	"brewlytics/config"
	models "brewlytics/database/models_pkg"
	"brewlytics/database/registry"
	"brewlytics/ml"
)

// forestSeed pins subsampling and split draws so retraining the same window
// reproduces the same forest.
const forestSeed = 42

// hardMinSamples is the floor below which no forest is fitted, no matter how
// low the configured soft floor is set.
const hardMinSamples = 10

// MetricSource is the slice of the metrics repository the trainer reads.
type MetricSource interface {
	FindWindow(branchID int, start, end time.Time) ([]models.DailyBranchMetrics, error)
}

// Trainer fits per-branch isolation forest models and commits them through
// the registry's promotion gate.
type Trainer struct {
	metrics  MetricSource
	registry *registry.Repository
}

// NewTrainer creates an anomaly trainer.
func NewTrainer(metrics MetricSource, reg *registry.Repository) *Trainer {
	return &Trainer{metrics: metrics, registry: reg}
}

// TrainOutcome summarizes one training run.
type TrainOutcome struct {
	ModelID    int64   `json:"model_id"`
	Promoted   bool    `json:"promoted"`
	Samples    int     `json:"samples"`
	Separation float64 `json:"separation"`
	Threshold  float64 `json:"threshold"`
	Flagged    int     `json:"flagged"`
}

// TrainBranch fits the isolation forest for one branch over the configured
// window ending at asOf and commits it. The quality metric is separation: the
// standardized distance between the mean scores of flagged and normal
// training days, where a larger gap means the forest draws a cleaner line.
func (t *Trainer) TrainBranch(ctx context.Context, branchID int, asOf time.Time, cfg config.MLConfig) (*TrainOutcome, error) {
	modelName := registry.ModelName(models.ModelTypeIsolationForest, branchID)
	if err := t.registry.BeginTraining(modelName); err != nil {
		return nil, err
	}
	defer t.registry.EndTraining(modelName)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := asOf.AddDate(0, 0, -cfg.IForestTrainingDays)
	rows, err := t.metrics.FindWindow(branchID, start, asOf)
	if err != nil {
		return nil, err
	}
	minSamples := cfg.MinTrainingSamples
	if minSamples < hardMinSamples {
		minSamples = hardMinSamples
	}
	if len(rows) < minSamples {
		return nil, &ml.InsufficientDataError{Required: minSamples, Got: len(rows)}
	}

	x := make([][]float64, len(rows))
	for i, row := range rows {
		x[i] = FeatureVector(row)
	}

	scaler, err := FitScaler(x)
	if err != nil {
		return nil, err
	}
	scaled := make([][]float64, len(x))
	for i, row := range x {
		scaled[i] = scaler.Transform(row)
	}

	forest, err := FitForest(scaled, cfg.IForestNEstimators, forestSeed)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = forest.Score(row)
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	threshold := quantile(sorted, cfg.IForestContamination)
	separation, flagged := separationScore(scores, threshold)

	bundle := &Bundle{
		Features:    append([]string(nil), ml.AnomalyFeatures...),
		Scaler:      scaler,
		Forest:      forest,
		Threshold:   threshold,
		TrainScores: sorted,
		Stats:       scoreStats(sorted),
		Separation:  separation,
	}
	artefact, err := EncodeArtefact(bundle)
	if err != nil {
		return nil, err
	}

	hpJSON, err := json.Marshal(map[string]interface{}{
		"n_estimators":  cfg.IForestNEstimators,
		"contamination": cfg.IForestContamination,
		"sample_size":   forest.SampleSize,
		"seed":          forestSeed,
	})
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode hyperparameters", Err: err}
	}
	featJSON, err := json.Marshal(bundle.Features)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode feature list", Err: err}
	}

	sep := separation
	row := &models.MLModel{
		ModelName:            modelName,
		ModelVersion:         time.Now().UTC().Format("20060102150405"),
		ModelType:            models.ModelTypeIsolationForest,
		TrainedAt:            time.Now().UTC(),
		TrainingWindowStart:  rows[0].ReportDate,
		TrainingWindowEnd:    rows[len(rows)-1].ReportDate,
		TrainingSamplesCount: len(rows),
		Hyperparameters:      string(hpJSON),
		FeatureList:          string(featJSON),
		Artefact:             artefact,
		QualityMetric:        "separation",
		QualityValue:         &sep,
	}

	id, promoted, err := t.registry.Commit(row, cfg.ComparisonThreshold)
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Trained %s: id=%d promoted=%v samples=%d separation=%.4f flagged=%d",
		modelName, id, promoted, len(rows), separation, flagged)
	return &TrainOutcome{
		ModelID:    id,
		Promoted:   promoted,
		Samples:    len(rows),
		Separation: separation,
		Threshold:  threshold,
		Flagged:    flagged,
	}, nil
}

// FeatureVector extracts the reference feature set from one metrics row, in
// AnomalyFeatures order.
func FeatureVector(row models.DailyBranchMetrics) []float64 {
	v := make([]float64, len(ml.AnomalyFeatures))
	for i, name := range ml.AnomalyFeatures {
		v[i], _ = ml.Value(row, name)
	}
	return v
}

// scoreStats summarizes a sorted score slice.
func scoreStats(sorted []float64) ScoreStats {
	if len(sorted) == 0 {
		return ScoreStats{}
	}
	mean, std := meanStd(sorted)
	return ScoreStats{
		Mean: mean,
		Std:  std,
		Q05:  quantile(sorted, 0.05),
		Q50:  quantile(sorted, 0.50),
		Q95:  quantile(sorted, 0.95),
	}
}

// quantile returns the q-quantile of a sorted slice by nearest-rank.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// separationScore measures how cleanly the threshold splits training scores:
// the gap between the normal and flagged mean scores divided by the pooled
// standard deviation. Zero when the split is degenerate.
func separationScore(scores []float64, threshold float64) (float64, int) {
	var flagged, normal []float64
	for _, s := range scores {
		if s < threshold {
			flagged = append(flagged, s)
		} else {
			normal = append(normal, s)
		}
	}
	if len(flagged) == 0 || len(normal) == 0 {
		return 0, len(flagged)
	}

	mf, sf := meanStd(flagged)
	mn, sn := meanStd(normal)
	pooled := math.Sqrt((sf*sf + sn*sn) / 2)
	if pooled == 0 {
		return 0, len(flagged)
	}
	return (mn - mf) / pooled, len(flagged)
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
}
