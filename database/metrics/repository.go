package metrics

import (
	"fmt"
	"time"

	models "brewlytics/database/models_pkg"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles database operations for daily branch metrics.
// It is the only writer of daily_branch_metrics rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new metrics repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts or replaces the row for (branch_id, report_date).
// The unique index serializes racing writers, so repeated aggregation of the
// same day is idempotent.
func (r *Repository) Upsert(m *models.DailyBranchMetrics) error {
	m.ReportDate = truncateDate(m.ReportDate)
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "branch_id"}, {Name: "report_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_revenue", "order_count", "avg_order_value",
			"total_customers", "repeat_customers", "new_customers",
			"unique_products_sold", "top_selling_product_id", "product_diversity_score",
			"peak_hour", "day_of_week", "is_weekend",
			"avg_prep_time", "staff_efficiency_score", "avg_review_score",
			"material_cost", "waste_percentage",
			"low_stock_products", "out_of_stock_products",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// FindWindow returns rows for a branch in [start, end], ascending by report
// date. Gaps stay gaps; the trainers decide how to impute.
func (r *Repository) FindWindow(branchID int, start, end time.Time) ([]models.DailyBranchMetrics, error) {
	var rows []models.DailyBranchMetrics
	err := r.db.Where("branch_id = ? AND report_date >= ? AND report_date <= ?",
		branchID, truncateDate(start), truncateDate(end)).
		Order("report_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("FindWindow: %w", err)
	}
	return rows, nil
}

// CountSince returns the number of metric days recorded for a branch since
// the given date. The scheduler uses it to decide retraining eligibility.
func (r *Repository) CountSince(branchID int, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.DailyBranchMetrics{}).
		Where("branch_id = ? AND report_date >= ?", branchID, truncateDate(since)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("CountSince: %w", err)
	}
	return count, nil
}

// Latest returns the most recent metrics row for a branch, or nil when the
// branch has no data yet.
func (r *Repository) Latest(branchID int) (*models.DailyBranchMetrics, error) {
	var row models.DailyBranchMetrics
	err := r.db.Where("branch_id = ?", branchID).
		Order("report_date DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return &row, nil
}

// Find returns the row for a single (branch, date), or nil when absent.
func (r *Repository) Find(branchID int, date time.Time) (*models.DailyBranchMetrics, error) {
	var row models.DailyBranchMetrics
	err := r.db.Where("branch_id = ? AND report_date = ?", branchID, truncateDate(date)).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("Find: %w", err)
	}
	return &row, nil
}

// DistinctBranches returns every branch id with at least one metrics row,
// ascending.
func (r *Repository) DistinctBranches() ([]int, error) {
	var ids []int
	err := r.db.Model(&models.DailyBranchMetrics{}).
		Distinct("branch_id").
		Order("branch_id ASC").
		Pluck("branch_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("DistinctBranches: %w", err)
	}
	return ids, nil
}

// truncateDate normalizes a timestamp to midnight UTC so date-keyed lookups
// compare equal regardless of the caller's clock.
func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
