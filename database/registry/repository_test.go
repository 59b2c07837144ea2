package registry

import (
	"errors"
	"testing"
	"time"

	"brewlytics/database"
	models "brewlytics/database/models_pkg"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
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
	if err := db.AutoMigrate(&models.MLModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type spyCache struct {
	invalidated []string
	set         []*models.MLModel
}

func (c *spyCache) Get(string) (*models.MLModel, bool) { return nil, false }
func (c *spyCache) Set(_ string, m *models.MLModel)    { c.set = append(c.set, m) }
func (c *spyCache) Invalidate(name string)             { c.invalidated = append(c.invalidated, name) }

func newModel(branchID int, mae float64) *models.MLModel {
	return &models.MLModel{
		ModelName:            ModelName(models.ModelTypeProphet, branchID),
		ModelVersion:         time.Now().UTC().Format("20060102150405.000"),
		ModelType:            models.ModelTypeProphet,
		TrainedAt:            time.Now().UTC(),
		TrainingSamplesCount: 100,
		Hyperparameters:      "{}",
		FeatureList:          `["order_count"]`,
		Artefact:             []byte(`{"version":1}`),
		QualityMetric:        "mae",
		QualityValue:         &mae,
	}
}

func countActive(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.MLModel{}).
		Where("model_name = ? AND is_active = ?", name, true).
		Count(&n).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	return n
}

func TestCommitFirstModelIsPromoted(t *testing.T) {
	repo := NewRepository(newTestDB(t), nil)

	id, promoted, err := repo.Commit(newModel(1, 5.0), 0)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if !promoted {
		t.Error("First model for a name should always be promoted")
	}
	if id == 0 {
		t.Error("Expected a row id")
	}

	active, err := repo.FindActive(1, models.ModelTypeProphet)
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if active == nil || active.ID != id {
		t.Errorf("Expected active model id=%d, got %+v", id, active)
	}
}

func TestCommitBetterModelReplacesActive(t *testing.T) {
	db := newTestDB(t)
	cache := &spyCache{}
	repo := NewRepository(db, cache)

	firstID, _, err := repo.Commit(newModel(1, 5.0), 0)
	if err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	secondID, promoted, err := repo.Commit(newModel(1, 4.0), 0)
	if err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}
	if !promoted {
		t.Error("Lower MAE should be promoted")
	}

	name := ModelName(models.ModelTypeProphet, 1)
	if n := countActive(t, db, name); n != 1 {
		t.Errorf("Expected exactly one active row, got %d", n)
	}
	active, _ := repo.FindActive(1, models.ModelTypeProphet)
	if active.ID != secondID || active.ID == firstID {
		t.Errorf("Wrong active model: %d", active.ID)
	}
	if len(cache.invalidated) != 2 {
		t.Errorf("Expected cache invalidation on every commit, got %v", cache.invalidated)
	}
}

func TestCommitWorseModelStaysInactive(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, nil)

	firstID, _, err := repo.Commit(newModel(1, 5.0), 0)
	if err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	_, promoted, err := repo.Commit(newModel(1, 6.0), 0)
	if err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}
	if promoted {
		t.Error("Higher MAE must not be promoted")
	}

	name := ModelName(models.ModelTypeProphet, 1)
	if n := countActive(t, db, name); n != 1 {
		t.Errorf("Expected exactly one active row, got %d", n)
	}
	active, _ := repo.FindActive(1, models.ModelTypeProphet)
	if active.ID != firstID {
		t.Errorf("Prior active model should survive, got id=%d", active.ID)
	}

	// The gated-out row is still persisted for history
	history, err := repo.History(name, 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("Expected 2 history rows, got %d", len(history))
	}
}

func TestComparisonThresholdGatesMarginalWins(t *testing.T) {
	repo := NewRepository(newTestDB(t), nil)

	if _, _, err := repo.Commit(newModel(1, 5.0), 0.1); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	// 4.6 beats 5.0 but not by the required 10%
	_, promoted, err := repo.Commit(newModel(1, 4.6), 0.1)
	if err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}
	if promoted {
		t.Error("Marginal improvement should not clear a 10% threshold")
	}
	// 4.4 clears 5.0 * 0.9
	_, promoted, err = repo.Commit(newModel(1, 4.4), 0.1)
	if err != nil {
		t.Fatalf("third Commit failed: %v", err)
	}
	if !promoted {
		t.Error("Improvement beyond the threshold should promote")
	}
}

func TestBeginTrainingGuardsConcurrentRetrain(t *testing.T) {
	repo := NewRepository(newTestDB(t), nil)
	name := ModelName(models.ModelTypeProphet, 3)

	if err := repo.BeginTraining(name); err != nil {
		t.Fatalf("first BeginTraining failed: %v", err)
	}
	err := repo.BeginTraining(name)
	var busy *database.BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("Expected BusyError, got %v", err)
	}

	// Another model name is unaffected
	if err := repo.BeginTraining(ModelName(models.ModelTypeIsolationForest, 3)); err != nil {
		t.Errorf("Different name should not be blocked: %v", err)
	}

	repo.EndTraining(name)
	if err := repo.BeginTraining(name); err != nil {
		t.Errorf("Slot should be free after EndTraining: %v", err)
	}
}

func TestSlowReaderCannotRepublishSupersededModel(t *testing.T) {
	db := newTestDB(t)
	cache := &spyCache{}
	repo := NewRepository(db, cache)

	if _, _, err := repo.Commit(newModel(1, 5.0), 0); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	name := ModelName(models.ModelTypeProphet, 1)

	// A reader loads the active row from the database...
	gen := repo.generation(name)
	stale, err := repo.findActiveByName(name)
	if err != nil || stale == nil {
		t.Fatalf("findActiveByName failed: %v %v", stale, err)
	}

	// ...and a promotion lands before the reader backfills the cache
	secondID, _, err := repo.Commit(newModel(1, 4.0), 0)
	if err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}

	cache.set = nil
	repo.cacheActive(name, gen, stale)
	if len(cache.set) != 0 {
		t.Errorf("Superseded row must not re-enter the cache, got %d sets", len(cache.set))
	}

	// A fresh read backfills the current active model
	active, err := repo.FindActive(1, models.ModelTypeProphet)
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if active.ID != secondID {
		t.Fatalf("Expected the promoted model active, got id=%d", active.ID)
	}
	if len(cache.set) != 1 || cache.set[0].ID != secondID {
		t.Errorf("Fresh read should backfill the promoted model, got %v", cache.set)
	}
}

func TestRollbackReactivatesPriorModel(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db, nil)

	firstID, _, err := repo.Commit(newModel(1, 5.0), 0)
	if err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if _, _, err := repo.Commit(newModel(1, 4.0), 0); err != nil {
		t.Fatalf("second Commit failed: %v", err)
	}

	if err := repo.Rollback(firstID); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	active, err := repo.FindActive(1, models.ModelTypeProphet)
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if active == nil || active.ID != firstID {
		t.Errorf("Expected rollback target active, got %+v", active)
	}
	if n := countActive(t, db, ModelName(models.ModelTypeProphet, 1)); n != 1 {
		t.Errorf("Expected exactly one active row after rollback, got %d", n)
	}
}

func TestHistoryExcludesArtefactBytes(t *testing.T) {
	repo := NewRepository(newTestDB(t), nil)
	if _, _, err := repo.Commit(newModel(1, 5.0), 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	history, err := repo.History(ModelName(models.ModelTypeProphet, 1), 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(history))
	}
	if len(history[0].Artefact) != 0 {
		t.Error("History must not load artefact bytes")
	}
}
