package middleware

import (
	"time"

	"pph/internal/logger"

	"github.com/spf13/cobra"
)

// LoggingOptions configures the logging middleware.
type LoggingOptions struct {
	// Logger points at the *logger.Logger the caller builds once its
	// config is loaded. The middleware is constructed at init time,
	// before PersistentPreRunE has run, so both loggers are read
	// through a pointer on every invocation rather than captured by
	// value. A nil pointer, or a pointer to nil, falls back to the
	// process default logger.
	Logger **logger.Logger
	// AuditLogger works the same way for the command audit trail; nil
	// disables it.
	AuditLogger **logger.AuditLogger
	// SkipCommands are command names that should not be logged.
	SkipCommands []string
}

// Logging wraps command execution with request-ID tagging, start and
// completion logging, and an audit trail entry.
func Logging(opts LoggingOptions) Middleware {
	return func(next RunFunc) RunFunc {
		return func(cmd *cobra.Command, args []string) error {
			for _, skip := range opts.SkipCommands {
				if cmd.Name() == skip {
					return next(cmd, args)
				}
			}

			log := logger.Default()
			if opts.Logger != nil && *opts.Logger != nil {
				log = *opts.Logger
			}

			cc := logger.NewCommandContext(cmd, args)
			ctx := logger.WithCommandContext(cmd.Context(), cc)
			ctx = logger.WithLogger(ctx, log)
			cmd.SetContext(ctx)

			log.Debug("command started",
				"command", cc.Command,
				"args", cc.Args,
				"request_id", cc.RequestID,
				"user", cc.User,
			)

			start := time.Now()
			err := next(cmd, args)
			duration := time.Since(start)

			if err != nil {
				log.Error("command failed",
					"command", cc.Command,
					"duration_ms", duration.Milliseconds(),
					"request_id", cc.RequestID,
					"error", err.Error(),
				)
			} else {
				log.Debug("command completed",
					"command", cc.Command,
					"duration_ms", duration.Milliseconds(),
					"request_id", cc.RequestID,
				)
			}

			if opts.AuditLogger != nil {
				outcome := logger.AuditOutcomeSuccess
				if err != nil {
					outcome = logger.AuditOutcomeFailure
				}
				(*opts.AuditLogger).LogCommand(cmd.Context(), cc.Command, outcome, map[string]any{
					"duration_ms": duration.Milliseconds(),
					"args":        cc.Args,
				})
			}

			return err
		}
	}
}
