package forecast

import (
	"context"
	"errors"
	"math"
	"testing"

	"brewlytics/ml"
)

func TestGridPutsConfiguredModeFirst(t *testing.T) {
	grid := Grid(Hyperparams{SeasonalityMode: ModeMultiplicative, WeeklySeasonality: true})
	if len(grid) == 0 {
		t.Fatal("Empty grid")
	}
	if grid[0].SeasonalityMode != ModeMultiplicative {
		t.Errorf("Expected configured mode first, got %s", grid[0].SeasonalityMode)
	}

	grid = Grid(Hyperparams{SeasonalityMode: ModeAdditive, WeeklySeasonality: true})
	if grid[0].SeasonalityMode != ModeAdditive {
		t.Errorf("Expected configured mode first, got %s", grid[0].SeasonalityMode)
	}
}

func TestGridSkipsFourierWithoutYearly(t *testing.T) {
	noYearly := Grid(Hyperparams{SeasonalityMode: ModeAdditive, YearlySeasonality: false, FourierOrder: 5})
	yearly := Grid(Hyperparams{SeasonalityMode: ModeAdditive, YearlySeasonality: true, FourierOrder: 5})
	if len(yearly) != 3*len(noYearly) {
		t.Errorf("Expected yearly grid 3x larger: %d vs %d", len(yearly), len(noYearly))
	}
}

func TestTuneRespectsTrialBudget(t *testing.T) {
	frame, err := BuildFrame(weeklyRows(84), "order_count", nil)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	defaults := Hyperparams{SeasonalityMode: ModeAdditive, WeeklySeasonality: true, IntervalWidth: 0.9}

	result, err := Tune(context.Background(), frame, nil, defaults, TuningOptions{
		NTrials:         4,
		ValidationRatio: 0.2,
	})
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	if result.Trials > 4 {
		t.Errorf("Expected at most 4 trials, got %d", result.Trials)
	}
	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		t.Errorf("Degenerate score: %v", result.Score)
	}
}

func TestTuneSingleTrialUsesConfiguredMode(t *testing.T) {
	frame, err := BuildFrame(weeklyRows(84), "order_count", nil)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	defaults := Hyperparams{SeasonalityMode: ModeMultiplicative, WeeklySeasonality: true, IntervalWidth: 0.9}

	result, err := Tune(context.Background(), frame, nil, defaults, TuningOptions{NTrials: 1, ValidationRatio: 0.2})
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	if result.Params.SeasonalityMode != ModeMultiplicative {
		t.Errorf("Single-trial tune should keep configured mode, got %s", result.Params.SeasonalityMode)
	}
}

func TestTuneFindsLowErrorOnCleanPattern(t *testing.T) {
	frame, err := BuildFrame(weeklyRows(84), "order_count", nil)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	defaults := Hyperparams{SeasonalityMode: ModeAdditive, WeeklySeasonality: true, IntervalWidth: 0.9}

	result, err := Tune(context.Background(), frame, nil, defaults, TuningOptions{ValidationRatio: 0.2})
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	// Noise-free weekly pattern: the winner should track it closely
	if result.MAE > 5 {
		t.Errorf("Expected small validation MAE on clean pattern, got %.4f", result.MAE)
	}
}

func TestTuningOptionsDefaults(t *testing.T) {
	got := TuningOptions{}.withDefaults()
	if got.ValidationRatio != 0.2 {
		t.Errorf("Expected default validation ratio 0.2, got %v", got.ValidationRatio)
	}
	if got.MinCoverage != 0.80 {
		t.Errorf("Expected default min coverage 0.80, got %v", got.MinCoverage)
	}
	if got.CoverageWeight != 10.0 {
		t.Errorf("Expected default coverage weight 10.0, got %v", got.CoverageWeight)
	}

	custom := TuningOptions{ValidationRatio: 0.3, MinCoverage: 0.95, CoverageWeight: 2.5}.withDefaults()
	if custom.ValidationRatio != 0.3 || custom.MinCoverage != 0.95 || custom.CoverageWeight != 2.5 {
		t.Errorf("Explicit options must survive normalization: %+v", custom)
	}
}

func TestCoveragePenaltyUsesConfiguredFloor(t *testing.T) {
	frame, err := BuildFrame(weeklyRows(84), "order_count", nil)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	cut := frame.Len() - 16
	train := frame.Slice(0, cut)
	valid := frame.Slice(cut, frame.Len())
	hp := Hyperparams{SeasonalityMode: ModeAdditive, WeeklySeasonality: true, IntervalWidth: 0.9}

	lax := TuningOptions{MinCoverage: 0.01, CoverageWeight: 100}.withDefaults()
	res, err := scoreCandidate(train, valid, nil, hp, lax)
	if err != nil {
		t.Fatalf("scoreCandidate failed: %v", err)
	}
	// With the floor below any achievable coverage, score is pure MAE
	if res.Score != res.MAE {
		t.Errorf("No penalty expected below the floor: score=%v mae=%v coverage=%v",
			res.Score, res.MAE, res.Coverage)
	}
}

func TestTuneInsufficientRows(t *testing.T) {
	frame, err := BuildFrame(weeklyRows(3), "order_count", nil)
	if err != nil {
		t.Fatalf("BuildFrame failed: %v", err)
	}
	_, err = Tune(context.Background(), frame, nil, Hyperparams{SeasonalityMode: ModeAdditive}, TuningOptions{ValidationRatio: 0.2})
	var insErr *ml.InsufficientDataError
	if !errors.As(err, &insErr) {
		t.Fatalf("Expected InsufficientDataError, got %v", err)
	}
}
