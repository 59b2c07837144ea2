package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"brewlytics/anomaly"
	"brewlytics/database"
	models "brewlytics/database/models_pkg"
)

// MetricSource supplies the day under report.
type MetricSource interface {
	Find(branchID int, date time.Time) (*models.DailyBranchMetrics, error)
}

// ForecastSource supplies the latest forecast for context.
type ForecastSource interface {
	LatestForBranch(branchID int) (*models.ForecastResult, error)
}

// Assessor scores the day against the branch's active anomaly model.
type Assessor interface {
	Assess(row models.DailyBranchMetrics) (*anomaly.Assessment, error)
}

// Narrator turns a data prompt into prose. Nil disables LLM narration and
// the composer falls back to the deterministic template.
type Narrator interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// ReportSink persists composed reports.
type ReportSink interface {
	Save(report *models.AnalyticsReport) error
	FindByBranchDate(branchID int, date time.Time) (*models.AnalyticsReport, error)
}

// Composer assembles the daily per-branch narrative report and queues it for
// delivery.
type Composer struct {
	metrics    MetricSource
	forecasts  ForecastSource
	assessor   Assessor
	narrator   Narrator
	sink       ReportSink
	recipients []string
}

// NewComposer creates a report composer. narrator may be nil.
func NewComposer(metrics MetricSource, forecasts ForecastSource, assessor Assessor, narrator Narrator, sink ReportSink, recipients []string) *Composer {
	return &Composer{
		metrics:    metrics,
		forecasts:  forecasts,
		assessor:   assessor,
		narrator:   narrator,
		sink:       sink,
		recipients: recipients,
	}
}

// ComposeDaily builds and queues the report for (branch, date). Re-running a
// day is a no-op: the existing report is returned untouched. Returns nil when
// the branch has no metrics for the day.
func (c *Composer) ComposeDaily(ctx context.Context, branchID int, date time.Time) (*models.AnalyticsReport, error) {
	existing, err := c.sink.FindByBranchDate(branchID, date)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	row, err := c.metrics.Find(branchID, date)
	if err != nil {
		return nil, err
	}
	if row == nil {
		log.Printf("⚠️  No metrics for branch=%d date=%s, skipping report", branchID, date.Format("2006-01-02"))
		return nil, nil
	}

	var assessment *anomaly.Assessment
	if c.assessor != nil {
		assessment, err = c.assessor.Assess(*row)
		if err != nil {
			log.Printf("⚠️  Anomaly assessment failed for branch=%d: %v", branchID, err)
			assessment = nil
		}
	}

	var forecast *models.ForecastResult
	if c.forecasts != nil {
		forecast, err = c.forecasts.LatestForBranch(branchID)
		if err != nil {
			log.Printf("⚠️  Forecast lookup failed for branch=%d: %v", branchID, err)
			forecast = nil
		}
	}

	content := c.narrate(ctx, row, assessment, forecast)

	recipientsJSON, err := json.Marshal(c.recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}

	report := &models.AnalyticsReport{
		BranchID:   branchID,
		ReportDate: time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		Title:      fmt.Sprintf("Daily Analytics Report - Branch %d - %s", branchID, date.Format("2006-01-02")),
		Content:    content,
		Recipients: string(recipientsJSON),
	}
	if err := c.sink.Save(report); err != nil {
		var conflict *database.ConflictError
		if errors.As(err, &conflict) {
			// Another composer won the race for this day; its report stands.
			return c.sink.FindByBranchDate(branchID, date)
		}
		return nil, err
	}
	log.Printf("📊 Queued report id=%d branch=%d date=%s", report.ID, branchID, date.Format("2006-01-02"))
	return report, nil
}

// narrate prefers the LLM narrative and falls back to the deterministic
// template on any failure.
func (c *Composer) narrate(ctx context.Context, row *models.DailyBranchMetrics, assessment *anomaly.Assessment, forecast *models.ForecastResult) string {
	if c.narrator != nil {
		text, err := c.narrator.Analyze(ctx, buildPrompt(row, assessment, forecast))
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		if err != nil {
			log.Printf("⚠️  LLM narration failed, using template: %v", err)
		}
	}
	return templateNarrative(row, assessment, forecast)
}
