package reports

import (
	"errors"
	"fmt"
	"time"

	"brewlytics/database"
	models "brewlytics/database/models_pkg"

	"gorm.io/gorm"
)

// Repository handles storage and delivery bookkeeping of analytics reports.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new report repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Save persists a composed report (queued, is_sent=false). A second writer
// racing on the same (branch, date) gets ConflictError; the row it lost to is
// the report to use.
func (r *Repository) Save(report *models.AnalyticsReport) error {
	if err := r.db.Create(report).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return database.NewConflictError("analytics_report",
				fmt.Sprintf("branch=%d date=%s", report.BranchID, report.ReportDate.Format("2006-01-02")))
		}
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// FindUnsent returns up to limit reports that are neither sent nor failed,
// oldest first so retries keep their order.
func (r *Repository) FindUnsent(limit int) ([]models.AnalyticsReport, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.AnalyticsReport
	err := r.db.Where("is_sent = ? AND failed = ?", false, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("FindUnsent: %w", err)
	}
	return rows, nil
}

// MarkSent flips the monotone is_sent flag after a successful SMTP
// acknowledgement.
func (r *Repository) MarkSent(id int64) error {
	now := time.Now().UTC()
	err := r.db.Model(&models.AnalyticsReport{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_sent": true,
			"sent_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("MarkSent: %w", err)
	}
	return nil
}

// RecordAttempt bumps the attempt counter and stores the last error. When
// failed is true the report leaves the retry loop for good.
func (r *Repository) RecordAttempt(id int64, sendErr string, failed bool) error {
	err := r.db.Model(&models.AnalyticsReport{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"send_attempts": gorm.Expr("send_attempts + 1"),
			"last_error":    sendErr,
			"failed":        failed,
		}).Error
	if err != nil {
		return fmt.Errorf("RecordAttempt: %w", err)
	}
	return nil
}

// FindByBranchDate returns the report composed for (branch, date), or nil.
func (r *Repository) FindByBranchDate(branchID int, date time.Time) (*models.AnalyticsReport, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	var report models.AnalyticsReport
	err := r.db.Where("branch_id = ? AND report_date = ?", branchID, day).
		First(&report).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("FindByBranchDate: %w", err)
	}
	return &report, nil
}

// Recent returns recently created reports for introspection endpoints.
func (r *Repository) Recent(branchID int, limit int) ([]models.AnalyticsReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := r.db.Order("created_at DESC").Limit(limit)
	if branchID > 0 {
		query = query.Where("branch_id = ?", branchID)
	}
	var rows []models.AnalyticsReport
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("Recent: %w", err)
	}
	return rows, nil
}
