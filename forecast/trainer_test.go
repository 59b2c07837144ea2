package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"brewlytics/config"
	"brewlytics/database"
	"brewlytics/database/metrics"
	models "brewlytics/database/models_pkg"
	"brewlytics/database/registry"
	"brewlytics/ml"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTrainerEnv(t *testing.T) (*Trainer, *metrics.Repository, *registry.Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.DailyBranchMetrics{}, &models.MLModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	metricsRepo := metrics.NewRepository(db)
	registryRepo := registry.NewRepository(db, nil)
	return NewTrainer(metricsRepo, registryRepo), metricsRepo, registryRepo
}

func seedDays(t *testing.T, repo *metrics.Repository, branchID, n int, start time.Time) time.Time {
	t.Helper()
	var last time.Time
	for i := 0; i < n; i++ {
		d := start.AddDate(0, 0, i)
		y := 100.0 + 0.5*float64(i)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			y += 40
		}
		row := &models.DailyBranchMetrics{
			BranchID:   branchID,
			ReportDate: d,
			OrderCount: int(y),
			DayOfWeek:  int(d.Weekday()),
		}
		if err := repo.Upsert(row); err != nil {
			t.Fatalf("seed day %d: %v", i, err)
		}
		last = d
	}
	return last
}

func testMLConfig() config.MLConfig {
	return config.MLConfig{
		ForecastTrainingDays:      120,
		ForecastTargetMetric:      "order_count",
		ForecastWeeklySeasonality: true,
		ForecastYearlySeasonality: false,
		ForecastUseRegressors:     false,
		ForecastSeasonalityMode:   ModeAdditive,
		ForecastHorizonDays:       30,
		EnableTuning:              false,
		MinTrainingSamples:        30,
	}
}

func TestTrainBranchFullPipeline(t *testing.T) {
	trainer, metricsRepo, registryRepo := newTrainerEnv(t)
	asOf := seedDays(t, metricsRepo, 1, 120, day(2025, 1, 1))

	outcome, err := trainer.TrainBranch(context.Background(), 1, asOf, testMLConfig())
	if err != nil {
		t.Fatalf("TrainBranch failed: %v", err)
	}
	if !outcome.Promoted {
		t.Error("First model should be promoted")
	}
	if outcome.Samples != 120 {
		t.Errorf("Expected 120 training samples, got %d", outcome.Samples)
	}
	if outcome.Backtest.MAE > 5 {
		t.Errorf("Expected small backtest MAE on clean pattern, got %.4f", outcome.Backtest.MAE)
	}

	active, err := registryRepo.FindActive(1, models.ModelTypeProphet)
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if active == nil {
		t.Fatal("Expected an active prophet model")
	}
	if active.ModelName != "prophet_branch_1" {
		t.Errorf("Expected model name prophet_branch_1, got %s", active.ModelName)
	}
	if active.QualityMetric != "mae" || active.QualityValue == nil {
		t.Errorf("Expected mae quality metric, got %s/%v", active.QualityMetric, active.QualityValue)
	}
	if len(active.Artefact) == 0 {
		t.Error("Active model should carry artefact bytes")
	}
}

func TestServeProducesAlignedHorizon(t *testing.T) {
	trainer, metricsRepo, _ := newTrainerEnv(t)
	asOf := seedDays(t, metricsRepo, 1, 120, day(2025, 1, 1))

	if _, err := trainer.TrainBranch(context.Background(), 1, asOf, testMLConfig()); err != nil {
		t.Fatalf("TrainBranch failed: %v", err)
	}

	result, err := trainer.Serve(1, 30, "order_count")
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if result.ForecastHorizonDays != 30 {
		t.Errorf("Expected horizon 30, got %d", result.ForecastHorizonDays)
	}

	var values []float64
	if err := json.Unmarshal([]byte(result.ForecastValues), &values); err != nil {
		t.Fatalf("decode forecast values: %v", err)
	}
	var intervals [][2]float64
	if err := json.Unmarshal([]byte(result.ConfidenceIntervals), &intervals); err != nil {
		t.Fatalf("decode intervals: %v", err)
	}
	if len(values) != 30 || len(intervals) != 30 {
		t.Fatalf("Expected 30 predictions and intervals, got %d/%d", len(values), len(intervals))
	}
	for i := range values {
		if intervals[i][0] > values[i] || values[i] > intervals[i][1] {
			t.Errorf("Day %d: interval ordering violated: %v %v %v",
				i, intervals[i][0], values[i], intervals[i][1])
		}
	}
	if !result.ForecastStartDate.Equal(asOf.AddDate(0, 0, 1)) {
		t.Errorf("Forecast should start the day after training end: %v", result.ForecastStartDate)
	}
	if result.ForecastEndDate.Sub(result.ForecastStartDate) != 29*24*time.Hour {
		t.Errorf("Unexpected forecast span: %v to %v", result.ForecastStartDate, result.ForecastEndDate)
	}
}

func TestTrainBranchInsufficientData(t *testing.T) {
	trainer, metricsRepo, registryRepo := newTrainerEnv(t)
	asOf := seedDays(t, metricsRepo, 2, 9, day(2025, 1, 1))

	_, err := trainer.TrainBranch(context.Background(), 2, asOf, testMLConfig())
	var insErr *ml.InsufficientDataError
	if !errors.As(err, &insErr) {
		t.Fatalf("Expected InsufficientDataError, got %v", err)
	}

	history, err := registryRepo.History("prophet_branch_2", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("No model row should be written on insufficient data, got %d", len(history))
	}
}

func TestTrainBranchBusyGuard(t *testing.T) {
	trainer, metricsRepo, registryRepo := newTrainerEnv(t)
	asOf := seedDays(t, metricsRepo, 3, 120, day(2025, 1, 1))

	name := registry.ModelName(models.ModelTypeProphet, 3)
	if err := registryRepo.BeginTraining(name); err != nil {
		t.Fatalf("BeginTraining failed: %v", err)
	}

	_, err := trainer.TrainBranch(context.Background(), 3, asOf, testMLConfig())
	var busy *database.BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("Expected BusyError while slot is held, got %v", err)
	}

	history, _ := registryRepo.History(name, 10)
	if len(history) != 0 {
		t.Errorf("Busy retrain must not write a model row, got %d", len(history))
	}

	// After the slot frees, training proceeds
	registryRepo.EndTraining(name)
	if _, err := trainer.TrainBranch(context.Background(), 3, asOf, testMLConfig()); err != nil {
		t.Fatalf("TrainBranch after release failed: %v", err)
	}
	history, _ = registryRepo.History(name, 10)
	if len(history) != 1 {
		t.Errorf("Expected exactly one model row, got %d", len(history))
	}
}
