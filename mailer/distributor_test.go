package mailer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	models "brewlytics/database/models_pkg"
)

type memQueue struct {
	reports []models.AnalyticsReport
}

func (q *memQueue) FindUnsent(limit int) ([]models.AnalyticsReport, error) {
	var out []models.AnalyticsReport
	for _, r := range q.reports {
		if !r.IsSent && !r.Failed {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (q *memQueue) MarkSent(id int64) error {
	for i := range q.reports {
		if q.reports[i].ID == id {
			q.reports[i].IsSent = true
			return nil
		}
	}
	return fmt.Errorf("report %d not found", id)
}

func (q *memQueue) RecordAttempt(id int64, errMsg string, failed bool) error {
	for i := range q.reports {
		if q.reports[i].ID == id {
			q.reports[i].SendAttempts++
			q.reports[i].LastError = errMsg
			q.reports[i].Failed = failed
			return nil
		}
	}
	return fmt.Errorf("report %d not found", id)
}

func (q *memQueue) get(id int64) *models.AnalyticsReport {
	for i := range q.reports {
		if q.reports[i].ID == id {
			return &q.reports[i]
		}
	}
	return nil
}

// scriptedSender fails specific report ids with a scripted error.
type scriptedSender struct {
	failures map[int64]error
	sent     []int64
}

func (s *scriptedSender) Send(report *models.AnalyticsReport) error {
	if err, ok := s.failures[report.ID]; ok {
		return err
	}
	s.sent = append(s.sent, report.ID)
	return nil
}

func threeReports() *memQueue {
	return &memQueue{reports: []models.AnalyticsReport{
		{ID: 1, BranchID: 1, Title: "r1"},
		{ID: 2, BranchID: 2, Title: "r2"},
		{ID: 3, BranchID: 3, Title: "r3"},
	}}
}

func TestTransientFailureLeavesReportQueued(t *testing.T) {
	queue := threeReports()
	sender := &scriptedSender{failures: map[int64]error{
		2: &TransientError{Err: errors.New("connection refused")},
	}}
	dist := NewDistributor(queue, sender, 3)

	summary, err := dist.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Sent != 2 || summary.Retried != 1 || summary.Failed != 0 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	if !queue.get(1).IsSent || !queue.get(3).IsSent {
		t.Error("Reports 1 and 3 should be sent")
	}
	second := queue.get(2)
	if second.IsSent || second.Failed {
		t.Errorf("Report 2 should stay queued: %+v", second)
	}
	if second.SendAttempts != 1 {
		t.Errorf("Expected 1 recorded attempt, got %d", second.SendAttempts)
	}

	// Next tick retries only the second report
	sender.failures = nil
	summary, err = dist.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.Processed != 1 || summary.Sent != 1 {
		t.Errorf("Second tick should retry exactly the failed report: %+v", summary)
	}
	if !queue.get(2).IsSent {
		t.Error("Report 2 should be sent on retry")
	}
}

func TestPermanentRejectionFailsImmediately(t *testing.T) {
	queue := threeReports()
	sender := &scriptedSender{failures: map[int64]error{
		2: errors.New("550 mailbox unavailable"),
	}}
	dist := NewDistributor(queue, sender, 3)

	summary, err := dist.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("Expected 1 permanent failure: %+v", summary)
	}
	second := queue.get(2)
	if !second.Failed || second.IsSent {
		t.Errorf("Report 2 should be failed: %+v", second)
	}

	// Failed reports leave the retry loop
	summary, _ = dist.Run(context.Background(), 10)
	if summary.Processed != 0 {
		t.Errorf("Failed report must not be retried: %+v", summary)
	}
}

func TestAttemptBoundExhaustsTransientRetries(t *testing.T) {
	queue := &memQueue{reports: []models.AnalyticsReport{{ID: 1, BranchID: 1, Title: "r1"}}}
	sender := &scriptedSender{failures: map[int64]error{
		1: &TransientError{Err: errors.New("timeout")},
	}}
	dist := NewDistributor(queue, sender, 2)

	if _, err := dist.Run(context.Background(), 10); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if queue.get(1).Failed {
		t.Error("First transient failure should stay retryable")
	}
	if _, err := dist.Run(context.Background(), 10); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	r := queue.get(1)
	if !r.Failed {
		t.Errorf("Second failure should exhaust the bound of 2: %+v", r)
	}
	if r.SendAttempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", r.SendAttempts)
	}
}

func TestBatchCap(t *testing.T) {
	queue := threeReports()
	sender := &scriptedSender{}
	dist := NewDistributor(queue, sender, 3)

	summary, err := dist.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != 2 {
		t.Errorf("Expected batch cap of 2, got %d", summary.Processed)
	}
}

func TestClassifyTransientShapes(t *testing.T) {
	var transient *TransientError
	if !errors.As(classify(errors.New("dial tcp: connection refused")), &transient) {
		t.Error("Unknown errors should default to transient")
	}
}
