package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"brewlytics/anomaly"
	"brewlytics/config"
	"brewlytics/database"
	models "brewlytics/database/models_pkg"
	"brewlytics/forecast"
	"brewlytics/mailer"
	"brewlytics/ml"
)

// DayAggregator assembles and persists one (branch, date) metrics row.
type DayAggregator interface {
	AggregateDay(ctx context.Context, branchID int, date time.Time) (*models.DailyBranchMetrics, error)
}

// ReportComposer builds and queues the daily report for one branch.
type ReportComposer interface {
	ComposeDaily(ctx context.Context, branchID int, date time.Time) (*models.AnalyticsReport, error)
}

// ForecastSink persists serving results.
type ForecastSink interface {
	Save(result *models.ForecastResult) error
}

// MetricCounter decides retraining eligibility.
type MetricCounter interface {
	CountSince(branchID int, since time.Time) (int64, error)
}

// JobLocker is a best-effort cross-process lock so two replicas do not run
// the same job concurrently. Nil disables it; the in-process single-writer
// guard still holds.
type JobLocker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RunSummary is the structured outcome of one job run.
type RunSummary struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Errors    []string      `json:"errors,omitempty"`
}

func (s *RunSummary) record(err error) {
	if err == nil {
		s.Succeeded++
		return
	}
	s.Failed++
	if len(s.Errors) < 10 {
		s.Errors = append(s.Errors, err.Error())
	}
}

// Orchestrator executes the four workflows over the configured branches with
// bounded per-branch fan-out.
type Orchestrator struct {
	cfg config.Config

	aggregator      DayAggregator
	composer        ReportComposer
	forecastTrainer *forecast.Trainer
	anomalyTrainer  *anomaly.Trainer
	forecasts       ForecastSink
	counter         MetricCounter
	distributor     *mailer.Distributor
	locker          JobLocker
}

// NewOrchestrator wires the job implementations. locker may be nil.
func NewOrchestrator(
	cfg config.Config,
	agg DayAggregator,
	composer ReportComposer,
	ft *forecast.Trainer,
	at *anomaly.Trainer,
	forecasts ForecastSink,
	counter MetricCounter,
	dist *mailer.Distributor,
	locker JobLocker,
) *Orchestrator {
	return &Orchestrator{
		cfg:             cfg,
		aggregator:      agg,
		composer:        composer,
		forecastTrainer: ft,
		anomalyTrainer:  at,
		forecasts:       forecasts,
		counter:         counter,
		distributor:     dist,
		locker:          locker,
	}
}

// branches resolves the branch subset for a run. Empty means every
// configured branch.
func (o *Orchestrator) branches(subset []int) []int {
	if len(subset) > 0 {
		return subset
	}
	return o.cfg.BranchIDs
}

// fanOut runs one task per branch with at most MLConcurrency in flight. Per
// branch failures are recorded in the summary, never aborting the run.
func (o *Orchestrator) fanOut(ctx context.Context, summary *RunSummary, branches []int, task func(ctx context.Context, branchID int) error) {
	g := &errgroup.Group{}
	limit := o.cfg.MLConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	var mu sync.Mutex
	for _, branchID := range branches {
		id := branchID
		summary.Processed++
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				// Shutdown: queued branches are abandoned without side effect
				mu.Lock()
				summary.record(err)
				mu.Unlock()
				return nil
			}
			err := task(ctx, id)
			mu.Lock()
			summary.record(err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// DailyMetrics aggregates one day of metrics for every branch.
func (o *Orchestrator) DailyMetrics(ctx context.Context, date time.Time, branchIDs []int) *RunSummary {
	summary := &RunSummary{Job: JobDailyMetrics}
	start := time.Now()
	defer func() { o.finish(summary, start) }()

	if !o.acquire(ctx, summary.Job) {
		return summary
	}
	defer o.release(ctx, summary.Job)

	o.fanOut(ctx, summary, o.branches(branchIDs), func(ctx context.Context, branchID int) error {
		row, err := o.aggregator.AggregateDay(ctx, branchID, date)
		if err != nil {
			return err
		}
		if row == nil {
			log.Printf("⚠️  Branch %d: no upstream data for %s", branchID, date.Format("2006-01-02"))
		}
		return nil
	})
	return summary
}

// DailyReports composes and queues one report per branch.
func (o *Orchestrator) DailyReports(ctx context.Context, date time.Time, branchIDs []int) *RunSummary {
	summary := &RunSummary{Job: JobDailyReports}
	start := time.Now()
	defer func() { o.finish(summary, start) }()

	if !o.acquire(ctx, summary.Job) {
		return summary
	}
	defer o.release(ctx, summary.Job)

	o.fanOut(ctx, summary, o.branches(branchIDs), func(ctx context.Context, branchID int) error {
		_, err := o.composer.ComposeDaily(ctx, branchID, date)
		return err
	})
	return summary
}

// WeeklyRetrain retrains both model families per branch, then refreshes the
// served forecast from whichever forecast model is active afterwards. A
// branch with no new metrics since the last cycle is skipped. BusyError and
// InsufficientDataError are expected outcomes, counted as skips.
func (o *Orchestrator) WeeklyRetrain(ctx context.Context, asOf time.Time, branchIDs []int) *RunSummary {
	summary := &RunSummary{Job: JobWeeklyRetrain}
	start := time.Now()
	defer func() { o.finish(summary, start) }()

	if !o.acquire(ctx, summary.Job) {
		return summary
	}
	defer o.release(ctx, summary.Job)

	mlCfg := o.cfg.ML // immutable snapshot for the whole run

	var mu sync.Mutex
	o.fanOut(ctx, summary, o.branches(branchIDs), func(ctx context.Context, branchID int) error {
		since := asOf.AddDate(0, 0, -o.cfg.RetrainFrequencyDays)
		fresh, err := o.counter.CountSince(branchID, since)
		if err != nil {
			return err
		}
		if fresh == 0 {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			log.Printf("⚠️  Branch %d: no new metrics since %s, skipping retrain",
				branchID, since.Format("2006-01-02"))
			return nil
		}

		if _, err := o.anomalyTrainer.TrainBranch(ctx, branchID, asOf, mlCfg); err != nil {
			if expectedTrainingSkip(err) {
				log.Printf("⚠️  Branch %d anomaly retrain skipped: %v", branchID, err)
			} else {
				return err
			}
		}

		if _, err := o.forecastTrainer.TrainBranch(ctx, branchID, asOf, mlCfg); err != nil {
			if expectedTrainingSkip(err) {
				log.Printf("⚠️  Branch %d forecast retrain skipped: %v", branchID, err)
				return nil
			}
			return err
		}

		result, err := o.forecastTrainer.Serve(branchID, mlCfg.ForecastHorizonDays, mlCfg.ForecastTargetMetric)
		if err != nil {
			return err
		}
		return o.forecasts.Save(result)
	})
	return summary
}

// DistributeUnsent ships queued reports, capped per run.
func (o *Orchestrator) DistributeUnsent(ctx context.Context) *RunSummary {
	summary := &RunSummary{Job: JobDistributeUnsent}
	start := time.Now()
	defer func() { o.finish(summary, start) }()

	if !o.acquire(ctx, summary.Job) {
		return summary
	}
	defer o.release(ctx, summary.Job)

	result, err := o.distributor.Run(ctx, o.cfg.DistributeBatch)
	if result != nil {
		summary.Processed = result.Processed
		summary.Succeeded = result.Sent
		summary.Failed = result.Failed
		summary.Skipped = result.Retried
	}
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	return summary
}

// acquire takes the best-effort cross-process lock. Without a locker it
// always succeeds.
func (o *Orchestrator) acquire(ctx context.Context, job string) bool {
	if o.locker == nil {
		return true
	}
	ok, err := o.locker.SetNX(ctx, "job_lock:"+job, time.Now().UTC().Format(time.RFC3339), 30*time.Minute)
	if err != nil {
		// Redis trouble must not stop jobs, the in-process guard still holds
		log.Printf("⚠️  Job lock check failed for %s, proceeding: %v", job, err)
		return true
	}
	if !ok {
		log.Printf("⚠️  Job %s locked by another instance, skipping", job)
	}
	return ok
}

func (o *Orchestrator) release(ctx context.Context, job string) {
	if o.locker == nil {
		return
	}
	if err := o.locker.Delete(ctx, "job_lock:"+job); err != nil {
		log.Printf("⚠️  Failed to release job lock for %s: %v", job, err)
	}
}

func (o *Orchestrator) finish(summary *RunSummary, start time.Time) {
	summary.Duration = time.Since(start)
	log.Printf("📊 Job %s done: processed=%d succeeded=%d failed=%d skipped=%d in %s",
		summary.Job, summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped,
		summary.Duration.Round(time.Millisecond))
}

// expectedTrainingSkip separates normal per-branch outcomes from real
// failures: another writer holds the slot, or the window is too small.
func expectedTrainingSkip(err error) bool {
	var busy *database.BusyError
	var insufficient *ml.InsufficientDataError
	return errors.As(err, &busy) || errors.As(err, &insufficient)
}
