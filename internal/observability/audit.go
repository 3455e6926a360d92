package observability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is a side effect a persona performed on behalf of a caller:
// an order or lead written, a fraud case changed.
type AuditEvent struct {
	Kind       string                 `json:"kind"`
	Action     string                 `json:"action"`
	Status     string                 `json:"status"`
	SessionKey string                 `json:"session_key,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AuditLogger appends audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger. Events are discarded until InitAuditLogger runs.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	if auditInst == nil {
		return &AuditLogger{logger: zerolog.Nop()}
	}
	return auditInst
}

// InitAuditLogger opens (or creates) the audit file and installs it globally.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst != nil && auditInst.file != nil {
		auditInst.file.Close()
	}
	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	return nil
}

// CloseAuditLogger closes the global audit file.
func CloseAuditLogger() error {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		return nil
	}
	err := auditInst.Close()
	auditInst = nil
	return err
}

// Record writes the event and mirrors it onto the active span.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Kind+"."+event.Action, trace.WithAttributes(
			attribute.String("audit.status", event.Status),
			attribute.String("audit.path", event.Path),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("kind", event.Kind).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("session_key", event.SessionKey).
		Str("path", event.Path).
		Str("trace_id", event.TraceID)
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// RecordSaveAudit records a write-once record (order, lead) and counts it.
func RecordSaveAudit(ctx context.Context, kind, sessionKey, path string, err error) {
	RecordSaved(kind, err == nil)
	ev := AuditEvent{
		Kind:       kind,
		Action:     "save",
		Status:     status(err == nil),
		SessionKey: sessionKey,
		Path:       path,
	}
	if err != nil {
		ev.Metadata = map[string]interface{}{"error": err.Error()}
	}
	GetAuditLogger().Record(ctx, ev)
}

// RecordCaseAudit records a fraud case status change.
func RecordCaseAudit(ctx context.Context, sessionKey, userName, newStatus string, err error) {
	RecordSaved("fraud_case", err == nil)
	meta := map[string]interface{}{
		"user_name":  userName,
		"new_status": newStatus,
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:       "fraud_case",
		Action:     "update",
		Status:     status(err == nil),
		SessionKey: sessionKey,
		Metadata:   meta,
	})
}
