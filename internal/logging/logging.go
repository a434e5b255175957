// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging configures the process-wide structured logger. Components
// receive a *slog.Logger; the printf-style helpers remain for code paths that
// only need a line of text.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/Curbea/Geotab-AuthlistSyncByGroup/internal/config"
)

var (
	mu     sync.RWMutex
	level  = new(slog.LevelVar)
	logger = newHandlerLogger(os.Stderr, "text", level)
	closer io.Closer
)

// Init replaces the package logger according to cfg and installs it as the
// slog default. A file output is opened for append.
func Init(cfg config.LogConfig) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var w io.Writer
	var c io.Closer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open log output %s: %w", cfg.Output, err)
		}
		w, c = f, f
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	level.Set(lvl)
	logger = newHandlerLogger(w, cfg.Format, level)
	slog.SetDefault(logger)
	return nil
}

// NewWriter returns a logger writing to w without touching the package
// default. Tests use it to capture output.
func NewWriter(w io.Writer, format string, lvl slog.Level) *slog.Logger {
	v := new(slog.LevelVar)
	v.Set(lvl)
	return newHandlerLogger(w, format, v)
}

func newHandlerLogger(w io.Writer, format string, lvl *slog.LevelVar) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(w),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" && a.Value.Kind() == slog.KindAny {
				if err, ok := a.Value.Any().(error); ok {
					return tint.Err(err)
				}
			}
			return a
		},
	}))
}

// ParseLevel maps a config level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, &config.ConfigError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", s)}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Get returns the current package logger.
func Get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Set swaps the package logger and returns the previous one.
func Set(l *slog.Logger) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	prev := logger
	logger = l
	return prev
}

// WithComponent returns the package logger tagged with a component name.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// SetDebug raises or lowers the level of the package logger.
func SetDebug(enabled bool) {
	if enabled {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...any) {
	Get().Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...any) {
	Get().Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...any) {
	Get().Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...any) {
	Get().Error(fmt.Sprintf(format, v...))
}
