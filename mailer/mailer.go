package mailer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/textproto"

	"brewlytics/config"
	models "brewlytics/database/models_pkg"

	"gopkg.in/gomail.v2"
)

// TransientError marks a send failure worth retrying on the next distribution
// tick: connection trouble or a 4xx SMTP response. Permanent rejections are
// returned bare.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Mailer ships analytics reports over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// New creates a mailer from SMTP configuration.
func New(cfg config.SMTPConfig) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

// Send delivers one report to its recipients. Returns nil only after the SMTP
// server acknowledged the message. Retryable failures come back as
// TransientError.
func (m *Mailer) Send(report *models.AnalyticsReport) error {
	recipients, err := decodeRecipients(report.Recipients)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("report %d has no recipients", report.ID)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", report.Title)
	msg.SetBody("text/plain", report.Content)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return classify(err)
	}
	return nil
}

func decodeRecipients(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var recipients []string
	if err := json.Unmarshal([]byte(raw), &recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	return recipients, nil
}

// classify splits SMTP failures into retryable and permanent. Network errors
// and 4xx responses retry; 5xx rejections are final.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			return &TransientError{Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &TransientError{Err: err}
	}
	// Unknown failure shape, retry rather than drop the report
	return &TransientError{Err: err}
}
