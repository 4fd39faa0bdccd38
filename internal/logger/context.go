package logger

import (
	"context"
	"log/slog"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type contextKey int

const (
	commandContextKey contextKey = iota
	loggerContextKey
)

// CommandContext ties every log line and audit entry emitted during one
// CLI invocation back to that invocation: who ran what, where, and a
// request ID to grep for.
type CommandContext struct {
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	User      string    `json:"user"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
	RequestID string    `json:"request_id"`
}

// NewCommandContext captures the invocation metadata for cmd and mints
// a fresh request ID.
func NewCommandContext(cmd *cobra.Command, args []string) *CommandContext {
	cc := &CommandContext{
		Command:   cmd.CommandPath(),
		Args:      args,
		StartedAt: time.Now(),
		RequestID: uuid.NewString(),
	}
	if u, err := user.Current(); err == nil {
		cc.User = u.Username
	}
	if host, err := os.Hostname(); err == nil {
		cc.Host = host
	}
	return cc
}

// WithCommandContext stores cc in ctx.
func WithCommandContext(ctx context.Context, cc *CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey, cc)
}

// CommandContextFrom returns the CommandContext stored in ctx, or nil.
func CommandContextFrom(ctx context.Context) *CommandContext {
	cc, _ := ctx.Value(commandContextKey).(*CommandContext)
	return cc
}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

// LoggerFrom returns the Logger stored in ctx, falling back to Default.
func LoggerFrom(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey).(*Logger); ok {
		return l
	}
	return Default()
}

// LogAttrs renders the CommandContext as slog attributes. Nil-safe.
func (cc *CommandContext) LogAttrs() []slog.Attr {
	if cc == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("request_id", cc.RequestID),
		slog.String("command", cc.Command),
		slog.String("user", cc.User),
		slog.String("host", cc.Host),
		slog.Time("started_at", cc.StartedAt),
	}
	if len(cc.Args) > 0 {
		attrs = append(attrs, slog.Any("args", cc.Args))
	}
	return attrs
}
