package metrics

import (
	"context"

	"pph"
)

// SecurityLogger adapts Metrics into a pph.SecurityLogger, counting
// each SecurityEvent kind and forwarding to an optional
// inner logger (typically the slog-backed default) so nothing is lost.
type SecurityLogger struct {
	metrics *Metrics
	inner   pph.SecurityLogger
}

// NewSecurityLogger wraps m, forwarding every event to inner in
// addition to counting it. inner may be nil.
func NewSecurityLogger(m *Metrics, inner pph.SecurityLogger) *SecurityLogger {
	return &SecurityLogger{metrics: m, inner: inner}
}

// SecurityEvent implements pph.SecurityLogger.
func (s *SecurityLogger) SecurityEvent(ctx context.Context, event string, attrs ...any) {
	switch event {
	case "share conflict":
		s.metrics.ShareConflictsTotal.Inc()
	case "possible database leak":
		s.metrics.PartialFalsePositives.Inc()
	case "possible break-in":
		s.metrics.PossibleBreakIns.Inc()
	}

	if s.inner != nil {
		s.inner.SecurityEvent(ctx, event, attrs...)
	}
}
