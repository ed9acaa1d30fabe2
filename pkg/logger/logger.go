// Package logger builds the application logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
)

// New returns a leveled logger writing to w.
func New(cfg config.LogConfig, w io.Writer) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		l, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = l
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "buddy",
	}), nil
}

// Open returns a logger writing to cfg.File, or to fallback when no file is set.
// The returned closer must be called on shutdown.
func Open(cfg config.LogConfig, fallback io.Writer) (*log.Logger, func() error, error) {
	if cfg.File == "" {
		l, err := New(cfg, fallback)
		return l, func() error { return nil }, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	l, err := New(cfg, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return l, f.Close, nil
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
