package registry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"brewlytics/database"
	models "brewlytics/database/models_pkg"

	"gorm.io/gorm"
)

// ActiveModelCache is the warm-path cache for active artefacts. Commit and
// Rollback invalidate it so readers never observe a stale active model.
type ActiveModelCache interface {
	Get(modelName string) (*models.MLModel, bool)
	Set(modelName string, m *models.MLModel)
	Invalidate(modelName string)
}

// Repository owns the MLModel lifecycle: one writer per model name, exactly
// zero or one active row per name at any time.
type Repository struct {
	db    *gorm.DB
	cache ActiveModelCache

	mu       sync.Mutex
	inflight map[string]bool
	gen      map[string]uint64
}

// NewRepository creates a new model registry. cache may be nil.
func NewRepository(db *gorm.DB, cache ActiveModelCache) *Repository {
	return &Repository{
		db:       db,
		cache:    cache,
		inflight: make(map[string]bool),
		gen:      make(map[string]uint64),
	}
}

// ModelName builds the conventional "<kind>_branch_<id>" model name.
func ModelName(kind string, branchID int) string {
	return fmt.Sprintf("%s_branch_%d", kind, branchID)
}

// BeginTraining reserves the training slot for a model name. A second caller
// gets BusyError until EndTraining releases the slot.
func (r *Repository) BeginTraining(modelName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[modelName] {
		return &database.BusyError{ModelName: modelName}
	}
	r.inflight[modelName] = true
	return nil
}

// EndTraining releases the training slot. Safe to call on a slot that was
// never reserved.
func (r *Repository) EndTraining(modelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, modelName)
}

// Commit inserts a freshly trained model row. When the new artefact passes
// the promotion gate it becomes active and every previous active row for the
// same name is deactivated in the same transaction. Returns the new row id
// and whether the model was promoted.
//
// Promotion gate (comparisonThreshold in [0,1)):
//   - "mae" (lower is better):        new <= old * (1 - threshold)
//   - "separation" (higher is better): new >= old * (1 + threshold)
//
// A gated-out artefact is still persisted for history, just never activated.
func (r *Repository) Commit(m *models.MLModel, comparisonThreshold float64) (int64, bool, error) {
	prev, err := r.findActiveByName(m.ModelName)
	if err != nil {
		return 0, false, err
	}

	promote := r.shouldPromote(prev, m, comparisonThreshold)

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if promote {
			if err := tx.Model(&models.MLModel{}).
				Where("model_name = ? AND is_active = ?", m.ModelName, true).
				Update("is_active", false).Error; err != nil {
				return fmt.Errorf("deactivate previous: %w", err)
			}
		}
		m.IsActive = promote
		if m.TrainedAt.IsZero() {
			m.TrainedAt = time.Now().UTC()
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("insert model: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, database.WrapDBError("Commit", err)
	}

	if promote {
		r.publish(m.ModelName, m)
	}
	if !promote && prev != nil {
		log.Printf("⚠️  Model %s id=%d not promoted: quality %s did not beat active id=%d",
			m.ModelName, m.ID, m.QualityMetric, prev.ID)
	}
	return m.ID, promote, nil
}

// Rollback re-activates a specific prior model row and deactivates the
// currently active row for that name.
func (r *Repository) Rollback(id int64) error {
	var target models.MLModel
	if err := r.db.First(&target, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return database.NewNotFoundErrorWithID("ml_model", id)
		}
		return database.WrapDBError("Rollback", err)
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.MLModel{}).
			Where("model_name = ? AND is_active = ?", target.ModelName, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.MLModel{}).
			Where("id = ?", id).
			Update("is_active", true).Error
	})
	if err != nil {
		return database.WrapDBError("Rollback", err)
	}

	target.IsActive = true
	r.publish(target.ModelName, &target)
	log.Printf("🔄 Rolled back %s to model id=%d", target.ModelName, id)
	return nil
}

// FindActive returns the active artefact for (branch, kind), or nil when no
// model has been promoted yet.
func (r *Repository) FindActive(branchID int, kind string) (*models.MLModel, error) {
	name := ModelName(kind, branchID)
	if r.cache != nil {
		if m, ok := r.cache.Get(name); ok {
			return m, nil
		}
	}
	gen := r.generation(name)
	m, err := r.findActiveByName(name)
	if err != nil {
		return nil, err
	}
	r.cacheActive(name, gen, m)
	return m, nil
}

// publish replaces the cached active row for a name. Bumping the generation
// first fences any reader that loaded the superseded row from the database
// before this write landed.
func (r *Repository) publish(name string, m *models.MLModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen[name]++
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(name)
	if m != nil {
		r.cache.Set(name, m)
	}
}

func (r *Repository) generation(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[name]
}

// cacheActive backfills the cache after a database read, unless a commit or
// rollback landed in between. Without the generation check a slow reader
// could write a superseded row back over the fresh active model.
func (r *Repository) cacheActive(name string, gen uint64, m *models.MLModel) {
	if r.cache == nil || m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[name] == gen {
		r.cache.Set(name, m)
	}
}

// History returns model rows for a name ordered by training time descending.
func (r *Repository) History(modelName string, limit int) ([]models.MLModel, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.MLModel
	err := r.db.
		Select("id", "model_name", "model_version", "model_type", "trained_at",
			"training_window_start", "training_window_end", "training_samples_count",
			"hyperparameters", "feature_list", "is_active", "quality_metric", "quality_value").
		Where("model_name = ?", modelName).
		Order("trained_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, database.WrapDBError("History", err)
	}
	return rows, nil
}

// Get loads a full model row including artefact bytes.
func (r *Repository) Get(id int64) (*models.MLModel, error) {
	var m models.MLModel
	if err := r.db.First(&m, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, database.NewNotFoundErrorWithID("ml_model", id)
		}
		return nil, database.WrapDBError("Get", err)
	}
	return &m, nil
}

func (r *Repository) findActiveByName(name string) (*models.MLModel, error) {
	var m models.MLModel
	err := r.db.Where("model_name = ? AND is_active = ?", name, true).First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, database.WrapDBError("findActiveByName", err)
	}
	return &m, nil
}

func (r *Repository) shouldPromote(prev, next *models.MLModel, threshold float64) bool {
	if prev == nil || prev.QualityValue == nil || next.QualityValue == nil {
		return true
	}
	oldQ, newQ := *prev.QualityValue, *next.QualityValue
	switch next.QualityMetric {
	case "mae":
		return newQ <= oldQ*(1-threshold)
	case "separation":
		return newQ >= oldQ*(1+threshold)
	default:
		return true
	}
}
