package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options describes how New builds a logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty disables logging.
	Level string

	// Format is "text" (default) or "json".
	Format string

	// File, when set, receives output through a RotatingFile instead of Stderr.
	File string

	// MaxSize is the rotation threshold in bytes for File (default DefaultMaxSize).
	MaxSize int64

	// MaxBackups is the number of rotated files kept for File (default 3).
	MaxBackups int
}

// New builds a redacting slog.Logger from opts. The returned closer releases
// the log file, if any, and is never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Level == "" {
		return slog.New(slog.DiscardHandler), nopCloser{}, nil
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		maxSize := opts.MaxSize
		if maxSize <= 0 {
			maxSize = DefaultMaxSize
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		rf, err := NewRotatingFile(opts.File, maxSize, backups)
		if err != nil {
			return nil, nil, err
		}
		w, closer = rf, rf
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, handlerOpts)
	case "json":
		h = slog.NewJSONHandler(w, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(NewRedactingHandler(h)), closer, nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
