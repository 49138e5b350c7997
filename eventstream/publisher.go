// Package eventstream bridges registry audit records, SLO alerts, and
// batch processing events onto NATS JetStream subjects so external
// notifiers and dashboards can consume them.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ragline/batch"
	"github.com/c360studio/ragline/plugin"
	"github.com/c360studio/ragline/slo"
)

// StreamName is the JetStream stream holding all ragline events.
const StreamName = "RAGLINE_EVENTS"

const publishTimeout = 5 * time.Second

// Publisher publishes ragline events. Subjects are built from a
// configurable prefix:
//
//	<prefix>.audit.plugin
//	<prefix>.slo.alert.<slo-name>
//	<prefix>.batch.events
type Publisher struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	prefix   string
	logger   *slog.Logger
	ownsConn bool
}

// Connect dials NATS and creates a Publisher that owns the connection.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p, err := NewPublisher(conn, prefix, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.ownsConn = true
	return p, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership
// of the connection.
func NewPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) (*Publisher, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if prefix == "" {
		prefix = "ragline"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		js:     js,
		prefix: prefix,
		logger: logger,
	}, nil
}

// EnsureStream creates or updates the events stream covering every
// publisher subject.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{p.prefix + ".>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return nil
}

// Close drains and closes the connection when the Publisher owns it.
func (p *Publisher) Close() {
	if p.ownsConn && p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// PublishAudit publishes one plugin audit record.
func (p *Publisher) PublishAudit(ctx context.Context, rec plugin.AuditRecord) error {
	return p.publish(ctx, p.prefix+".audit.plugin", rec)
}

// PublishAlert publishes one SLO alert on its per-SLO subject.
func (p *Publisher) PublishAlert(ctx context.Context, alert slo.Alert) error {
	return p.publish(ctx, fmt.Sprintf("%s.slo.alert.%s", p.prefix, alert.SLO), alert)
}

// batchEnvelope tags batch events with their type for JSON consumers.
type batchEnvelope struct {
	Type  batch.EventType `json:"type"`
	Event batch.Event     `json:"event"`
	At    time.Time       `json:"at"`
}

// PublishBatchEvent publishes one batch processing event.
func (p *Publisher) PublishBatchEvent(ctx context.Context, ev batch.Event) error {
	return p.publish(ctx, p.prefix+".batch.events", batchEnvelope{
		Type:  ev.Type,
		Event: ev,
		At:    time.Now(),
	})
}

// AuditSink adapts the Publisher to the registry's audit interface.
// Publish failures are logged, never surfaced to registration.
func (p *Publisher) AuditSink() plugin.AuditSink {
	return &auditSink{p: p}
}

type auditSink struct {
	p *Publisher
}

func (s *auditSink) Record(rec plugin.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.p.PublishAudit(ctx, rec); err != nil {
		s.p.logger.Warn("failed to publish audit record",
			"plugin", rec.PluginName,
			"error", err,
		)
	}
}

// AlertHandler adapts the Publisher to the SLO monitor's observer.
func (p *Publisher) AlertHandler() slo.AlertHandler {
	return func(alert slo.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.PublishAlert(ctx, alert); err != nil {
			p.logger.Warn("failed to publish SLO alert",
				"slo", alert.SLO,
				"error", err,
			)
		}
	}
}

// BatchObserver adapts the Publisher to the batch processor's observer.
func (p *Publisher) BatchObserver() batch.Observer {
	return func(ev batch.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.PublishBatchEvent(ctx, ev); err != nil {
			p.logger.Warn("failed to publish batch event",
				"type", ev.Type,
				"error", err,
			)
		}
	}
}
