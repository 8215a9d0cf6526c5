// Package logging configures slog for the command-line tools: a console
// handler (text on a terminal, JSON otherwise) and, optionally, a JSON run
// log file that receives every record as well.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Options controls logger construction.
type Options struct {
	Verbose bool
	// Console receives human-facing output; os.Stdout when nil.
	Console io.Writer
	// Dir, when set, gets a run_<timestamp>.log file in JSON lines.
	Dir string
	Now func() time.Time
}

// Logger is a configured slog.Logger plus the resources behind it.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar
	// Path is the run log file, empty when none was opened.
	Path string

	file *os.File
}

// New builds a logger according to opts.
func New(opts Options) (*Logger, error) {
	level := &slog.LevelVar{}
	if opts.Verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if f, ok := console.(*os.File); ok && IsTerminal(f) {
		handler = slog.NewTextHandler(console, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(console, handlerOpts)
	}

	l := &Logger{Level: level}
	if opts.Dir != "" {
		now := opts.Now
		if now == nil {
			now = time.Now
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		l.Path = filepath.Join(opts.Dir, fmt.Sprintf("run_%s.log", now().Format("20060102_150405")))
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		l.file = f
		// The file always records debug detail.
		handler = Fanout(handler, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// Install makes l the process default logger.
func (l *Logger) Install() {
	slog.SetDefault(l.Logger)
	slog.SetLogLoggerLevel(l.Level.Level())
}

// Close flushes and closes the run log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	return errors.Join(err, l.file.Close())
}

// IsTerminal reports whether f is a character device.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

// Fanout combines handlers into one.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return fanout(handlers)
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
