package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditAction categorizes an audit entry.
type AuditAction string

const (
	// AuditActionSecurity records one of the engine's security events:
	// "possible database leak", "possible break-in", "share conflict".
	AuditActionSecurity AuditAction = "security_event"
	// AuditActionUnlock records a Locked to Unlocked transition.
	AuditActionUnlock AuditAction = "unlock"
	// AuditActionSweep records a post-unlock sweep of locked-mode
	// account entries.
	AuditActionSweep AuditAction = "sweep"
	// AuditActionCommand records a CLI command invocation.
	AuditActionCommand AuditAction = "command"
	// AuditActionConfigChange records an accepted or rejected config
	// hot-reload.
	AuditActionConfigChange AuditAction = "config_change"
)

// AuditOutcome is the result recorded with an audit entry.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is one entry of the audit stream.
type AuditEvent struct {
	Action    AuditAction    `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	Resource  string         `json:"resource"`
	Outcome   AuditOutcome   `json:"outcome"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// AuditLogger writes the dedicated audit stream: always JSON, always to
// its own rotated file, retained much longer than operational logs.
// This is the file an operator greps after an incident, so it never
// shares a sink with debug output. All methods are safe on a nil
// receiver, which is how "audit disabled" is represented.
type AuditLogger struct {
	logger *slog.Logger
	sink   *lumberjack.Logger
}

// NewAuditLogger opens the audit stream at path. maxAgeDays <= 0 keeps
// entries for a year.
func NewAuditLogger(path string, maxAgeDays int) (*AuditLogger, error) {
	if path == "" {
		return nil, fmt.Errorf("logger: audit path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("logger: creating audit directory: %w", err)
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 365
	}

	sink := &lumberjack.Logger{
		Filename: path,
		MaxSize:  100,
		MaxAge:   maxAgeDays,
		Compress: true,
	}
	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &AuditLogger{logger: slog.New(handler), sink: sink}, nil
}

// Log records one audit entry. The request ID is filled from the
// context's CommandContext when the event doesn't carry one.
func (a *AuditLogger) Log(ctx context.Context, e AuditEvent) {
	if a == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.RequestID == "" {
		if cc := CommandContextFrom(ctx); cc != nil {
			e.RequestID = cc.RequestID
		}
	}

	attrs := []slog.Attr{
		slog.String("action", string(e.Action)),
		slog.String("resource", e.Resource),
		slog.String("outcome", string(e.Outcome)),
		slog.Time("timestamp", e.Timestamp),
	}
	if e.Actor != "" {
		attrs = append(attrs, slog.String("actor", e.Actor))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if len(e.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", e.Metadata))
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// SecurityEvent records one of the engine's security events. The
// signature matches the hasher's SecurityLogger interface, so an
// *AuditLogger can be installed directly as the engine's security sink;
// attrs are alternating key/value pairs the same way slog takes them.
func (a *AuditLogger) SecurityEvent(ctx context.Context, event string, attrs ...any) {
	if a == nil {
		return
	}
	metadata := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			key = fmt.Sprint(attrs[i])
		}
		metadata[key] = attrs[i+1]
	}
	a.Log(ctx, AuditEvent{
		Action:   AuditActionSecurity,
		Resource: event,
		Outcome:  AuditOutcomeDenied,
		Metadata: metadata,
	})
}

// LogCommand records a CLI command invocation and its outcome.
func (a *AuditLogger) LogCommand(ctx context.Context, command string, outcome AuditOutcome, metadata map[string]any) {
	actor := ""
	if cc := CommandContextFrom(ctx); cc != nil {
		actor = cc.User
	}
	a.Log(ctx, AuditEvent{
		Action:   AuditActionCommand,
		Actor:    actor,
		Resource: command,
		Outcome:  outcome,
		Metadata: metadata,
	})
}

// LogUnlock records a Locked to Unlocked transition.
func (a *AuditLogger) LogUnlock(ctx context.Context, sharesUsed int) {
	a.Log(ctx, AuditEvent{
		Action:   AuditActionUnlock,
		Resource: "engine",
		Outcome:  AuditOutcomeSuccess,
		Metadata: map[string]any{"shares_used": sharesUsed},
	})
}

// LogConfigChange records a config hot-reload attempt.
func (a *AuditLogger) LogConfigChange(ctx context.Context, resource string, outcome AuditOutcome, detail string) {
	var metadata map[string]any
	if detail != "" {
		metadata = map[string]any{"detail": detail}
	}
	a.Log(ctx, AuditEvent{
		Action:   AuditActionConfigChange,
		Resource: resource,
		Outcome:  outcome,
		Metadata: metadata,
	})
}

// Close closes the audit file. Safe on nil.
func (a *AuditLogger) Close() error {
	if a == nil || a.sink == nil {
		return nil
	}
	return a.sink.Close()
}
