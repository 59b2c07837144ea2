package mailer

import (
	"context"
	"errors"
	"log"

	models "brewlytics/database/models_pkg"
)

// ReportQueue is the slice of the reports repository the distributor drives.
type ReportQueue interface {
	FindUnsent(limit int) ([]models.AnalyticsReport, error)
	MarkSent(id int64) error
	RecordAttempt(id int64, errMsg string, failed bool) error
}

// Sender delivers a single report.
type Sender interface {
	Send(report *models.AnalyticsReport) error
}

// Distributor ships queued reports in bounded batches. A report is marked
// sent only after the sender acknowledged it; transient failures leave it
// queued for the next tick until the attempt bound runs out.
type Distributor struct {
	queue       ReportQueue
	sender      Sender
	maxAttempts int
}

// NewDistributor creates a distributor.
func NewDistributor(queue ReportQueue, sender Sender, maxAttempts int) *Distributor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Distributor{queue: queue, sender: sender, maxAttempts: maxAttempts}
}

// Summary reports one distribution run.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// Run ships up to batch unsent reports, oldest first. Each report is handled
// independently: one failure never blocks the rest of the batch.
func (d *Distributor) Run(ctx context.Context, batch int) (*Summary, error) {
	reports, err := d.queue.FindUnsent(batch)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i := range reports {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		report := &reports[i]
		summary.Processed++

		sendErr := d.sender.Send(report)
		if sendErr == nil {
			if err := d.queue.MarkSent(report.ID); err != nil {
				return summary, err
			}
			summary.Sent++
			continue
		}

		attempts := report.SendAttempts + 1
		var transient *TransientError
		retryable := errors.As(sendErr, &transient) && attempts < d.maxAttempts
		if err := d.queue.RecordAttempt(report.ID, sendErr.Error(), !retryable); err != nil {
			return summary, err
		}
		if retryable {
			summary.Retried++
			log.Printf("⚠️  Report %d send failed (attempt %d/%d), will retry: %v",
				report.ID, attempts, d.maxAttempts, sendErr)
		} else {
			summary.Failed++
			log.Printf("⚠️  Report %d permanently failed after %d attempts: %v",
				report.ID, attempts, sendErr)
		}
	}
	return summary, nil
}
