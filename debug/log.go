package debug

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options selects the log destination and level
type Options struct {
	Level string // debug, info, warn, error
	File  string // "" logs to stderr; "default" uses DefaultPath
	JSON  bool
}

// DefaultPath is ~/.config/tracker-bridge/debug.log
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tracker-bridge", "debug.log"), nil
}

// ParseLevel maps a level name to slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		path := opts.File
		if path == "default" {
			if path, err = DefaultPath(); err != nil {
				return nil, nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, nil, err
		}
		w, closer = f, f
	}

	return NewWriter(w, level, opts.JSON), closer, nil
}

// NewWriter builds a logger writing to w
func NewWriter(w io.Writer, level slog.Level, json bool) *slog.Logger {
	ho := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

// Discard returns a logger that drops everything
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
