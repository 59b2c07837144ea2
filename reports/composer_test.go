package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"brewlytics/anomaly"
	"brewlytics/database"
	models "brewlytics/database/models_pkg"
)

type fakeMetrics struct {
	row *models.DailyBranchMetrics
}

func (f *fakeMetrics) Find(branchID int, date time.Time) (*models.DailyBranchMetrics, error) {
	return f.row, nil
}

type fakeForecasts struct {
	result *models.ForecastResult
}

func (f *fakeForecasts) LatestForBranch(branchID int) (*models.ForecastResult, error) {
	return f.result, nil
}

type fakeAssessor struct {
	assessment *anomaly.Assessment
}

func (f *fakeAssessor) Assess(row models.DailyBranchMetrics) (*anomaly.Assessment, error) {
	return f.assessment, nil
}

type fakeNarrator struct {
	text string
	err  error
}

func (f *fakeNarrator) Analyze(ctx context.Context, prompt string) (string, error) {
	return f.text, f.err
}

type fakeSink struct {
	saved    []*models.AnalyticsReport
	existing *models.AnalyticsReport
}

func (f *fakeSink) Save(report *models.AnalyticsReport) error {
	report.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, report)
	return nil
}

func (f *fakeSink) FindByBranchDate(branchID int, date time.Time) (*models.AnalyticsReport, error) {
	return f.existing, nil
}

func sampleDay() *models.DailyBranchMetrics {
	return &models.DailyBranchMetrics{
		BranchID:           4,
		ReportDate:         time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		TotalRevenue:       1234.5,
		OrderCount:         77,
		AvgOrderValue:      16.03,
		TotalCustomers:     55,
		NewCustomers:       12,
		PeakHour:           9,
		AvgReviewScore:     4.2,
		OutOfStockProducts: 2,
	}
}

func TestComposeDailyTemplateFallback(t *testing.T) {
	sink := &fakeSink{}
	c := NewComposer(&fakeMetrics{row: sampleDay()}, &fakeForecasts{}, &fakeAssessor{}, nil, sink,
		[]string{"ops@example.com"})

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if report == nil {
		t.Fatal("Expected a report")
	}
	if report.IsSent {
		t.Error("New reports must queue unsent")
	}
	if !strings.Contains(report.Content, "1234.50") || !strings.Contains(report.Content, "77") {
		t.Errorf("Template should carry the day's numbers:\n%s", report.Content)
	}
	if !strings.Contains(report.Content, "2 products out of stock") {
		t.Errorf("Expected stock warning in content:\n%s", report.Content)
	}
	if !strings.Contains(report.Recipients, "ops@example.com") {
		t.Errorf("Recipients not encoded: %s", report.Recipients)
	}
	if !strings.Contains(report.Title, "Branch 4") || !strings.Contains(report.Title, "2025-03-09") {
		t.Errorf("Unexpected title: %s", report.Title)
	}
}

func TestComposeDailyIdempotent(t *testing.T) {
	existing := &models.AnalyticsReport{ID: 42, BranchID: 4}
	sink := &fakeSink{existing: existing}
	c := NewComposer(&fakeMetrics{row: sampleDay()}, nil, nil, nil, sink, nil)

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if report.ID != 42 {
		t.Errorf("Expected the existing report back, got %+v", report)
	}
	if len(sink.saved) != 0 {
		t.Error("Re-composing a day must not save a second report")
	}
}

func TestComposeDailyNoMetricsSkips(t *testing.T) {
	sink := &fakeSink{}
	c := NewComposer(&fakeMetrics{}, nil, nil, nil, sink, nil)

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if report != nil || len(sink.saved) != 0 {
		t.Error("A day without metrics should be skipped")
	}
}

func TestComposeDailyUsesNarrator(t *testing.T) {
	sink := &fakeSink{}
	c := NewComposer(&fakeMetrics{row: sampleDay()}, nil, nil,
		&fakeNarrator{text: "All quiet on branch 4."}, sink, nil)

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if report.Content != "All quiet on branch 4." {
		t.Errorf("Expected narrator content, got: %s", report.Content)
	}
}

func TestComposeDailyNarratorFailureFallsBack(t *testing.T) {
	sink := &fakeSink{}
	c := NewComposer(&fakeMetrics{row: sampleDay()}, nil, nil,
		&fakeNarrator{err: errors.New("rate limited")}, sink, nil)

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if !strings.Contains(report.Content, "Branch 4 summary") {
		t.Errorf("Expected template fallback, got: %s", report.Content)
	}
}

// conflictSink loses the insert race: Save reports a conflict and the winning
// row only becomes visible on the second lookup.
type conflictSink struct {
	winner  *models.AnalyticsReport
	lookups int
}

func (s *conflictSink) Save(report *models.AnalyticsReport) error {
	return database.NewConflictError("analytics_report", "branch=4 date=2025-03-09")
}

func (s *conflictSink) FindByBranchDate(branchID int, date time.Time) (*models.AnalyticsReport, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, nil
	}
	return s.winner, nil
}

func TestComposeDailyLosingRaceReturnsWinningReport(t *testing.T) {
	winner := &models.AnalyticsReport{ID: 7, BranchID: 4}
	sink := &conflictSink{winner: winner}
	c := NewComposer(&fakeMetrics{row: sampleDay()}, nil, nil, nil, sink, nil)

	report, err := c.ComposeDaily(context.Background(), 4, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ComposeDaily failed: %v", err)
	}
	if report == nil || report.ID != 7 {
		t.Errorf("Expected the winning report back after losing the insert race, got %+v", report)
	}
}

func TestNarrativeMentionsAnomaly(t *testing.T) {
	assessment := &anomaly.Assessment{
		BranchID:     4,
		IsAnomaly:    true,
		AnomalyScore: 0.91,
		Severity:     anomaly.SeverityCritical,
		AffectedFeatures: []anomaly.AffectedFeature{
			{Name: "total_revenue", ZScore: 8.5, Value: 12000},
		},
	}
	content := templateNarrative(sampleDay(), assessment, nil)
	if !strings.Contains(content, "CRITICAL") || !strings.Contains(content, "total_revenue") {
		t.Errorf("Anomaly should surface in the narrative:\n%s", content)
	}
}
