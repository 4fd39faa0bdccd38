// Package logger builds the engine's structured log pipeline: slog in
// front, a format-specific handler (text, json, or a charm-styled
// pretty handler) behind it, lumberjack rotation for file sinks, and a
// redaction layer that keeps password- and secret-derived values out of
// every sink. A separate, dedicated audit stream records security
// events and unlock transitions.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"pph/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the engine-wide structured logger. It embeds *slog.Logger,
// so call sites use the plain slog surface; Close releases any rotated
// file sinks the configuration opened.
type Logger struct {
	*slog.Logger
	cfg    config.LogConfig
	closer io.Closer
}

// New builds a Logger from cfg. The handler chain is, outermost first:
// redaction (when cfg.RedactFields is non-empty), then the
// format-specific handler, writing to every sink cfg names.
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	sink, closer := openSinks(cfg)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(sink, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.EnableCaller,
		})
	case "pretty":
		handler = NewConsoleHandler(sink, &ConsoleOptions{
			Level:   level,
			NoColor: cfg.NoColor,
		})
	default:
		handler = slog.NewTextHandler(sink, &slog.HandlerOptions{
			Level:     level,
			AddSource: cfg.EnableCaller,
		})
	}

	if len(cfg.RedactFields) > 0 {
		handler = NewRedactingHandler(handler, cfg.RedactFields)
	}

	return &Logger{
		Logger: slog.New(handler),
		cfg:    cfg,
		closer: closer,
	}, nil
}

// Close releases any file sinks. Safe on a nil Logger.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// With returns a Logger carrying the extra attributes. The returned
// Logger does not own the underlying sinks; closing it is a no-op.
func (l *Logger) With(attrs ...any) *Logger {
	return &Logger{Logger: l.Logger.With(attrs...), cfg: l.cfg}
}

// WithGroup returns a Logger that nests subsequent attributes under
// name. Like With, it does not own the sinks.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name), cfg: l.cfg}
}

// Default returns a Logger over slog's process default, for call sites
// that run before configuration is loaded.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// openSinks resolves cfg's Output and FilePath fields into a single
// io.Writer (a MultiWriter when both are set) plus a closer for
// whatever rotated files were opened. With nothing configured it falls
// back to stderr.
func openSinks(cfg config.LogConfig) (io.Writer, io.Closer) {
	var writers []io.Writer
	var group closeGroup

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		writers = append(writers, os.Stdout)
	case "stderr":
		writers = append(writers, os.Stderr)
	case "":
	default:
		// Any other value is a file path.
		f := rotatedFile(cfg.Output, cfg)
		writers = append(writers, f)
		group = append(group, f)
	}

	if cfg.FilePath != "" {
		f := rotatedFile(cfg.FilePath, cfg)
		writers = append(writers, f)
		group = append(group, f)
	}

	var sink io.Writer
	switch len(writers) {
	case 0:
		sink = os.Stderr
	case 1:
		sink = writers[0]
	default:
		sink = io.MultiWriter(writers...)
	}

	if len(group) == 0 {
		return sink, nil
	}
	return sink, group
}

// rotatedFile opens path as a size/age-rotated, compressed log file.
func rotatedFile(path string, cfg config.LogConfig) *lumberjack.Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if lj.MaxSize <= 0 {
		lj.MaxSize = 100
	}
	if lj.MaxBackups <= 0 {
		lj.MaxBackups = 3
	}
	if lj.MaxAge <= 0 {
		lj.MaxAge = 28
	}
	return lj
}

// closeGroup closes every member, reporting how many failed.
type closeGroup []io.Closer

func (g closeGroup) Close() error {
	var failed int
	var first error
	for _, c := range g {
		if err := c.Close(); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("closing %d of %d log sinks failed: %w", failed, len(g), first)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
