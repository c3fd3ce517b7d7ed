// Package events publishes dispatch notifications over NATS so downstream
// consumers can follow what a scan queued.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/EPFL-ENAC/AddLidar/internal/logging"
	"github.com/EPFL-ENAC/AddLidar/internal/services"
)

// Event types.
const (
	TypeJobSubmitted = "job_submitted"
	TypeJobExported  = "job_exported"
	TypeJobFailed    = "job_failed"
	TypeScanFinished = "scan_finished"
)

// Event is the JSON payload published for each dispatch and scan.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind,omitempty"`
	JobName    string    `json:"job_name,omitempty"`
	Units      []string  `json:"units,omitempty"`
	Count      int       `json:"count"`
	Failed     int       `json:"failed,omitempty"`
	ExportOnly bool      `json:"export_only,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() {}

// NATSPublisher publishes events on a single subject.
type NATSPublisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect returns a NATS publisher, or Noop when url is empty.
func Connect(url, subject string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("lidarscan"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(0),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to NATS at %s: %w", services.ErrConnectivity, url, err)
	}
	return NewPublisher(conn, subject, logger), nil
}

// NewPublisher wraps an established connection.
func NewPublisher(conn Conn, subject string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logging.NewComponentLogger(logger, "events"),
		now:     time.Now,
	}
}

// Publish sends event and waits for the server to acknowledge the flush.
func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("%w: publish %s: %w", services.ErrConnectivity, event.Type, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: flush %s: %w", services.ErrConnectivity, event.Type, err)
	}
	p.logger.Debug("event published",
		logging.String(logging.FieldEventType, event.Type),
		logging.String("subject", p.subject),
	)
	return nil
}

// Close closes the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
