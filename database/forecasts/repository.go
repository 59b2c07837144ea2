package forecasts

import (
	"fmt"
	"time"

	models "brewlytics/database/models_pkg"

	"gorm.io/gorm"
)

// Repository handles append-only storage of forecast serving results.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new forecast result repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Save appends a forecast result row.
func (r *Repository) Save(result *models.ForecastResult) error {
	if err := r.db.Create(result).Error; err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// LatestForBranch returns the most recent forecast for a branch, or nil.
func (r *Repository) LatestForBranch(branchID int) (*models.ForecastResult, error) {
	var result models.ForecastResult
	err := r.db.Where("branch_id = ?", branchID).
		Order("created_at DESC").
		First(&result).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("LatestForBranch: %w", err)
	}
	return &result, nil
}

// Recent returns forecast rows created since the given time, optionally
// filtered by branch (branchID <= 0 means all branches).
func (r *Repository) Recent(branchID int, since time.Time, limit int) ([]models.ForecastResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.db.Order("created_at DESC").Limit(limit)
	if branchID > 0 {
		query = query.Where("branch_id = ?", branchID)
	}
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}

	var results []models.ForecastResult
	if err := query.Find(&results).Error; err != nil {
		return nil, fmt.Errorf("Recent: %w", err)
	}
	return results, nil
}
