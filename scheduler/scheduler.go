package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job names as exposed by the trigger API.
const (
	JobDailyMetrics     = "daily_metrics"
	JobDailyReports     = "daily_reports"
	JobWeeklyRetrain    = "weekly_retrain"
	JobDistributeUnsent = "distribute_unsent"
)

// Default cron schedules, interpreted in the configured timezone.
var schedules = map[string]string{
	JobDailyMetrics:     "15 0 * * *",
	JobDailyReports:     "0 6 * * *",
	JobWeeklyRetrain:    "0 2 * * 0",
	JobDistributeUnsent: "*/15 * * * *",
}

// JobStatus describes one registered job for the status endpoint.
type JobStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	Running  bool       `json:"running"`
}

// Scheduler drives the four recurring jobs and their manual triggers. Each
// named job has a single-writer guard shared by cron fires and manual
// triggers, so at most one instance runs at a time.
type Scheduler struct {
	orch *Orchestrator
	loc  *time.Location

	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	running bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler around the orchestrator. timezone must parse with
// time.LoadLocation; an empty string means UTC.
func New(orch *Orchestrator, timezone string) (*Scheduler, error) {
	loc := time.UTC
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = parsed
	}

	s := &Scheduler{
		orch:    orch,
		loc:     loc,
		entries: make(map[string]cron.EntryID),
		locks: map[string]*sync.Mutex{
			JobDailyMetrics:     {},
			JobDailyReports:     {},
			JobWeeklyRetrain:    {},
			JobDistributeUnsent: {},
		},
	}
	return s, nil
}

// Start registers the cron entries and begins firing them. Idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithLocation(s.loc))

	register := func(name string, run func(ctx context.Context)) error {
		id, err := s.cron.AddFunc(schedules[name], func() {
			s.fire(name, run)
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		s.entries[name] = id
		return nil
	}

	jobs := map[string]func(ctx context.Context){
		JobDailyMetrics:     func(ctx context.Context) { s.orch.DailyMetrics(ctx, yesterday(s.loc), nil) },
		JobDailyReports:     func(ctx context.Context) { s.orch.DailyReports(ctx, yesterday(s.loc), nil) },
		JobWeeklyRetrain:    func(ctx context.Context) { s.orch.WeeklyRetrain(ctx, today(s.loc), nil) },
		JobDistributeUnsent: func(ctx context.Context) { s.orch.DistributeUnsent(ctx) },
	}
	for _, name := range []string{JobDailyMetrics, JobDailyReports, JobWeeklyRetrain, JobDistributeUnsent} {
		if err := register(name, jobs[name]); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true
	log.Printf("✅ Scheduler started in %s with %d jobs", s.loc, len(s.entries))
	return nil
}

// Stop halts cron firing and waits for in-flight jobs. Queued per-branch
// tasks are cancelled through the shared context; running ones finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	cancel()
	s.wg.Wait()
	log.Println("✅ Scheduler stopped")
}

// Running reports whether the cron loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Jobs lists every registered job with its next scheduled run.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := []string{JobDailyMetrics, JobDailyReports, JobWeeklyRetrain, JobDistributeUnsent}
	statuses := make([]JobStatus, 0, len(order))
	for _, name := range order {
		st := JobStatus{Name: name, Schedule: schedules[name]}
		if s.running {
			if entry := s.cron.Entry(s.entries[name]); entry.ID != 0 && !entry.Next.IsZero() {
				next := entry.Next
				st.NextRun = &next
			}
		}
		if lock := s.locks[name]; lock != nil && !lock.TryLock() {
			st.Running = true
		} else if lock != nil {
			lock.Unlock()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// fire runs one job under its single-writer lock. A fire that finds the lock
// held is dropped, not queued: the next tick will catch up.
func (s *Scheduler) fire(name string, run func(ctx context.Context)) {
	lock := s.locks[name]
	if !lock.TryLock() {
		log.Printf("⚠️  Job %s still running, skipping this fire", name)
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		lock.Unlock()
		return
	}
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer lock.Unlock()
		run(ctx)
	}()
}

// Trigger runs a named job once, synchronously, with an optional target date
// and branch subset. It shares the job's single-writer lock with cron fires.
func (s *Scheduler) Trigger(ctx context.Context, name string, targetDate time.Time, branchIDs []int) (*RunSummary, error) {
	lock, ok := s.locks[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", name)
	}
	if !lock.TryLock() {
		return nil, fmt.Errorf("job %s is already running", name)
	}
	defer lock.Unlock()

	if targetDate.IsZero() {
		if name == JobWeeklyRetrain {
			targetDate = today(s.loc)
		} else {
			targetDate = yesterday(s.loc)
		}
	}

	switch name {
	case JobDailyMetrics:
		return s.orch.DailyMetrics(ctx, targetDate, branchIDs), nil
	case JobDailyReports:
		return s.orch.DailyReports(ctx, targetDate, branchIDs), nil
	case JobWeeklyRetrain:
		return s.orch.WeeklyRetrain(ctx, targetDate, branchIDs), nil
	case JobDistributeUnsent:
		return s.orch.DistributeUnsent(ctx), nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

func today(loc *time.Location) time.Time {
	now := time.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func yesterday(loc *time.Location) time.Time {
	return today(loc).AddDate(0, 0, -1)
}
