package plugin

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditRecord captures one signature verification attempt.
// Records are emitted on success and failure alike so an external sink
// (file, SIEM, NATS) sees the full trail.
type AuditRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Component  string    `json:"component"`
	PluginName string    `json:"plugin_name"`
	SignerID   string    `json:"signer_id,omitempty"`
	Version    string    `json:"version,omitempty"`
	Verified   bool      `json:"verified"`
	Error      string    `json:"error,omitempty"`
}

// AuditSink receives audit records. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	Record(rec AuditRecord)
}

// newAuditRecord fills the generated fields of an audit record.
func newAuditRecord(action, pluginName string) AuditRecord {
	return AuditRecord{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Action:     action,
		Component:  "plugin-registry",
		PluginName: pluginName,
	}
}

// MemoryAuditSink retains audit records in memory. It is the registry
// default and backs Registry.AuditTrail.
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditSink creates an empty in-memory audit sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

// Record appends a record to the sink.
func (s *MemoryAuditSink) Record(rec AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// Records returns a copy of all retained records in arrival order.
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// LogAuditSink writes audit records to a slog logger.
type LogAuditSink struct {
	Logger *slog.Logger
}

// Record logs the record at Info level.
func (s *LogAuditSink) Record(rec AuditRecord) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("plugin audit",
		"action", rec.Action,
		"plugin", rec.PluginName,
		"signer_id", rec.SignerID,
		"version", rec.Version,
		"verified", rec.Verified,
		"error", rec.Error)
}
