package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"brewlytics/config"
	models "brewlytics/database/models_pkg"
	"brewlytics/database/registry"
	"brewlytics/ml"
)

// MetricSource is the slice of the metrics repository the trainer reads.
type MetricSource interface {
	FindWindow(branchID int, start, end time.Time) ([]models.DailyBranchMetrics, error)
}

// Trainer trains, gates, and serves per-branch forecast models.
type Trainer struct {
	metrics  MetricSource
	registry *registry.Repository
}

// NewTrainer creates a forecast trainer.
func NewTrainer(metrics MetricSource, reg *registry.Repository) *Trainer {
	return &Trainer{metrics: metrics, registry: reg}
}

// TrainOutcome summarizes one training run for job logs and API responses.
type TrainOutcome struct {
	ModelID  int64           `json:"model_id"`
	Promoted bool            `json:"promoted"`
	Samples  int             `json:"samples"`
	Params   Hyperparams     `json:"params"`
	Backtest BacktestMetrics `json:"backtest"`
	Tuned    bool            `json:"tuned"`
}

// TrainBranch runs the full training pipeline for one branch: reserve the
// training slot, assemble the frame, tune or take the configured defaults,
// score a trailing hold-out, refit on the full window, and commit through the
// registry's promotion gate. asOf anchors the training window end, normally
// today.
func (t *Trainer) TrainBranch(ctx context.Context, branchID int, asOf time.Time, cfg config.MLConfig) (*TrainOutcome, error) {
	modelName := registry.ModelName(models.ModelTypeProphet, branchID)
	if err := t.registry.BeginTraining(modelName); err != nil {
		return nil, err
	}
	defer t.registry.EndTraining(modelName)

	start := asOf.AddDate(0, 0, -cfg.ForecastTrainingDays)
	rows, err := t.metrics.FindWindow(branchID, start, asOf)
	if err != nil {
		return nil, err
	}

	var regressors []string
	if cfg.ForecastUseRegressors {
		regressors = append([]string{"is_weekend", "day_of_week", "month"}, ml.OperationalRegressors...)
	}
	frame, err := BuildFrame(rows, cfg.ForecastTargetMetric, regressors)
	if err != nil {
		return nil, err
	}
	if frame.Len() < cfg.MinTrainingSamples {
		return nil, &ml.InsufficientDataError{Required: cfg.MinTrainingSamples, Got: frame.Len()}
	}
	kept := keepRegressors(cfg.ForecastTargetMetric, regressors)

	defaults := Hyperparams{
		SeasonalityMode:   cfg.ForecastSeasonalityMode,
		WeeklySeasonality: cfg.ForecastWeeklySeasonality,
		YearlySeasonality: cfg.ForecastYearlySeasonality,
		FourierOrder:      5,
		RidgeLambda:       0.1,
		IntervalWidth:     0.90,
	}

	hp := defaults
	tuned := false
	if cfg.EnableTuning {
		result, err := Tune(ctx, frame, kept, defaults, TuningOptions{
			NTrials:         cfg.TuningNTrials,
			Timeout:         time.Duration(cfg.TuningTimeoutSeconds) * time.Second,
			ValidationRatio: cfg.TuningValidationRatio,
			MinCoverage:     cfg.TuningMinCoverage,
			CoverageWeight:  cfg.TuningCoverageWeight,
		})
		if err != nil {
			log.Printf("⚠️  Tuning failed for %s, falling back to defaults: %v", modelName, err)
		} else {
			hp = result.Params
			tuned = true
		}
	}

	backtest, err := t.backtest(frame, kept, hp, cfg.ForecastHorizonDays)
	if err != nil {
		return nil, err
	}

	// Final model sees the whole window
	model, err := Fit(frame, kept, hp)
	if err != nil {
		return nil, err
	}
	artefact, err := EncodeArtefact(&Bundle{Model: model, Backtest: backtest})
	if err != nil {
		return nil, err
	}

	hpJSON, err := json.Marshal(hp)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode hyperparameters", Err: err}
	}
	features := append([]string{cfg.ForecastTargetMetric}, kept...)
	featJSON, err := json.Marshal(features)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode feature list", Err: err}
	}

	mae := backtest.MAE
	row := &models.MLModel{
		ModelName:            modelName,
		ModelVersion:         time.Now().UTC().Format("20060102150405"),
		ModelType:            models.ModelTypeProphet,
		TrainedAt:            time.Now().UTC(),
		TrainingWindowStart:  frame.Dates[0],
		TrainingWindowEnd:    frame.LastDate(),
		TrainingSamplesCount: frame.Len(),
		Hyperparameters:      string(hpJSON),
		FeatureList:          string(featJSON),
		Artefact:             artefact,
		QualityMetric:        "mae",
		QualityValue:         &mae,
	}

	id, promoted, err := t.registry.Commit(row, cfg.ComparisonThreshold)
	if err != nil {
		return nil, err
	}

	log.Printf("✅ Trained %s: id=%d promoted=%v samples=%d mae=%.4f tuned=%v",
		modelName, id, promoted, frame.Len(), mae, tuned)
	return &TrainOutcome{
		ModelID:  id,
		Promoted: promoted,
		Samples:  frame.Len(),
		Params:   hp,
		Backtest: backtest,
		Tuned:    tuned,
	}, nil
}

// backtest fits on the frame minus a trailing hold-out of up to horizon days
// and scores predictions against the held-out actuals. The hold-out shrinks
// when the frame is too short to give the fit a sensible majority of rows.
func (t *Trainer) backtest(frame *Frame, regressors []string, hp Hyperparams, horizon int) (BacktestMetrics, error) {
	h := horizon
	if max := frame.Len() / 3; h > max {
		h = max
	}
	if h < 1 {
		h = 1
	}
	cut := frame.Len() - h

	m, err := Fit(frame.Slice(0, cut), regressors, hp)
	if err != nil {
		return BacktestMetrics{}, err
	}

	hold := frame.Slice(cut, frame.Len())
	predicted := make([]float64, hold.Len())
	for i := 0; i < hold.Len(); i++ {
		idx := i
		predicted[i], _, _ = m.PredictRow(hold.Dates[i], func(name string) float64 {
			return hold.Regressors[name][idx]
		})
	}
	return computeMetrics(hold.Y, predicted), nil
}

// Serve generates a horizon forecast from the branch's active model and
// shapes it into a ForecastResult row. The caller persists the row. Returns
// a NotFoundError-compatible nil model error when no model is active.
func (t *Trainer) Serve(branchID int, horizonDays int, targetMetric string) (*models.ForecastResult, error) {
	active, err := t.registry.FindActive(branchID, models.ModelTypeProphet)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, fmt.Errorf("no active forecast model for branch %d", branchID)
	}
	bundle, err := DecodeArtefact(active.Artefact)
	if err != nil {
		return nil, err
	}

	dates, yhat, lower, upper := bundle.Model.Horizon(horizonDays)

	values, err := json.Marshal(yhat)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode forecast values", Err: err}
	}
	intervals := make([][2]float64, len(lower))
	for i := range lower {
		intervals[i] = [2]float64{lower[i], upper[i]}
	}
	intervalsJSON, err := json.Marshal(intervals)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode confidence intervals", Err: err}
	}

	result := &models.ForecastResult{
		BranchID:             branchID,
		ForecastDate:         time.Now().UTC().Truncate(24 * time.Hour),
		ModelID:              active.ID,
		TargetMetric:         targetMetric,
		Algorithm:            "PROPHET",
		ForecastValues:       string(values),
		ConfidenceIntervals:  string(intervalsJSON),
		MAE:                  bundle.Backtest.MAE,
		MSE:                  bundle.Backtest.MSE,
		RMSE:                 bundle.Backtest.RMSE,
		MAPE:                 bundle.Backtest.MAPE,
		TrainingSamplesCount: active.TrainingSamplesCount,
		TrainingDateStart:    active.TrainingWindowStart,
		TrainingDateEnd:      active.TrainingWindowEnd,
		ForecastHorizonDays:  horizonDays,
	}
	if len(dates) > 0 {
		result.ForecastStartDate = dates[0]
		result.ForecastEndDate = dates[len(dates)-1]
	}
	return result, nil
}
