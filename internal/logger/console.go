package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	charmlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

// ConsoleOptions configures the pretty console handler.
type ConsoleOptions struct {
	// Level is the minimum level to emit.
	Level slog.Leveler
	// NoColor disables styling entirely.
	NoColor bool
	// TimeFormat defaults to a bare clock time; local runs don't need
	// the date.
	TimeFormat string
}

// ConsoleHandler adapts charmbracelet/log into an slog.Handler, used
// for the "pretty" log format on interactive runs.
type ConsoleHandler struct {
	cl     *charmlog.Logger
	writer io.Writer
	opts   ConsoleOptions
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler builds a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, opts *ConsoleOptions) *ConsoleHandler {
	var o ConsoleOptions
	if opts != nil {
		o = *opts
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	if o.TimeFormat == "" {
		o.TimeFormat = "15:04:05"
	}
	return &ConsoleHandler{
		cl:     newCharmLogger(w, o),
		writer: w,
		opts:   o,
	}
}

func newCharmLogger(w io.Writer, o ConsoleOptions) *charmlog.Logger {
	cl := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      o.TimeFormat,
		Level:           charmLogLevel(o.Level.Level()),
	})
	if o.NoColor {
		cl.SetColorProfile(termenv.Ascii)
		return cl
	}

	styles := charmlog.DefaultStyles()
	styles.Levels[charmlog.DebugLevel] = lipgloss.NewStyle().
		SetString("DBG").Faint(true)
	styles.Levels[charmlog.InfoLevel] = lipgloss.NewStyle().
		SetString("INF").Bold(true).Foreground(lipgloss.Color("36"))
	styles.Levels[charmlog.WarnLevel] = lipgloss.NewStyle().
		SetString("WRN").Bold(true).Foreground(lipgloss.Color("214"))
	styles.Levels[charmlog.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERR").Bold(true).Foreground(lipgloss.Color("196"))
	styles.Key = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	styles.Value = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styles.Timestamp = lipgloss.NewStyle().Faint(true)
	cl.SetStyles(styles)
	return cl
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	kvs := make([]any, 0, (len(h.attrs)+r.NumAttrs())*2)
	for _, a := range h.attrs {
		kvs = h.appendAttr(kvs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		kvs = h.appendAttr(kvs, a)
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		h.cl.Error(r.Message, kvs...)
	case r.Level >= slog.LevelWarn:
		h.cl.Warn(r.Message, kvs...)
	case r.Level >= slog.LevelInfo:
		h.cl.Info(r.Message, kvs...)
	default:
		h.cl.Debug(r.Message, kvs...)
	}
	return nil
}

// appendAttr flattens a (possibly grouped) attribute into kvs, joining
// group names with dots.
func (h *ConsoleHandler) appendAttr(kvs []any, a slog.Attr) []any {
	if a.Key == "" {
		return kvs
	}
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		if len(members) == 0 {
			return kvs
		}
		parts := make([]string, 0, len(members))
		for _, m := range members {
			parts = append(parts, fmt.Sprintf("%s=%v", m.Key, displayValue(m.Value)))
		}
		return append(kvs, key, strings.Join(parts, " "))
	}

	return append(kvs, key, displayValue(a.Value))
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	next.attrs = append(next.attrs, attrs...)
	return next
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	return &ConsoleHandler{
		cl:     newCharmLogger(h.writer, h.opts),
		writer: h.writer,
		opts:   h.opts,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// displayValue renders an slog.Value for the console.
func displayValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

func charmLogLevel(level slog.Level) charmlog.Level {
	switch {
	case level >= slog.LevelError:
		return charmlog.ErrorLevel
	case level >= slog.LevelWarn:
		return charmlog.WarnLevel
	case level >= slog.LevelInfo:
		return charmlog.InfoLevel
	}
	return charmlog.DebugLevel
}
