package metrics

import (
	"testing"
	"time"

	models "brewlytics/database/models_pkg"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
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
	if err := db.AutoMigrate(&models.DailyBranchMetrics{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db), db
}

func metricsRow(branchID int, date time.Time, revenue float64, orders int) *models.DailyBranchMetrics {
	return &models.DailyBranchMetrics{
		BranchID:      branchID,
		ReportDate:    date,
		TotalRevenue:  revenue,
		OrderCount:    orders,
		AvgOrderValue: revenue / float64(orders),
		DayOfWeek:     int(date.Weekday()),
	}
}

func TestUpsertSameDayIsIdempotent(t *testing.T) {
	repo, db := newTestRepo(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	if err := repo.Upsert(metricsRow(1, day, 900, 45)); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	// Re-aggregating the day replaces, never duplicates
	if err := repo.Upsert(metricsRow(1, day, 1100, 55)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	var count int64
	if err := db.Model(&models.DailyBranchMetrics{}).
		Where("branch_id = ?", 1).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected exactly one row for (branch, date), got %d", count)
	}

	row, err := repo.Find(1, day)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if row == nil {
		t.Fatal("Expected the upserted row")
	}
	if row.TotalRevenue != 1100 || row.OrderCount != 55 {
		t.Errorf("Second write should win: revenue=%.0f orders=%d", row.TotalRevenue, row.OrderCount)
	}
}

func TestUpsertNormalizesTimestampsToOneKey(t *testing.T) {
	repo, db := newTestRepo(t)

	// Same calendar day seen with different clock components
	if err := repo.Upsert(metricsRow(1, time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC), 900, 45)); err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if err := repo.Upsert(metricsRow(1, time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC), 950, 47)); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	var count int64
	if err := db.Model(&models.DailyBranchMetrics{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("Timestamps within one day must collapse to one row, got %d", count)
	}
}

func TestUpsertKeepsBranchesAndDaysApart(t *testing.T) {
	repo, _ := newTestRepo(t)
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	if err := repo.Upsert(metricsRow(1, day, 900, 45)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := repo.Upsert(metricsRow(2, day, 700, 35)); err != nil {
		t.Fatalf("Upsert branch 2 failed: %v", err)
	}
	if err := repo.Upsert(metricsRow(1, day.AddDate(0, 0, 1), 920, 46)); err != nil {
		t.Fatalf("Upsert next day failed: %v", err)
	}

	rows, err := repo.FindWindow(1, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("FindWindow failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows for branch 1, got %d", len(rows))
	}
	if !rows[0].ReportDate.Before(rows[1].ReportDate) {
		t.Error("FindWindow must return ascending dates")
	}

	count, err := repo.CountSince(2, day)
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row for branch 2, got %d", count)
	}
}
