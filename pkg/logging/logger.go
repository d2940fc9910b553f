// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for ConversionPulse
// components.
//
// Built on Go's standard library slog package with multi-destination
// output: text on stderr when attached to a terminal, JSON otherwise,
// plus an optional JSON log file per service and day.
//
// # Basic Usage
//
//	logger := logging.Default()
//	logger.Info("batch accepted", "events", n)
//
// # File Logging
//
//	logger := logging.New(logging.Config{
//	    Level:   slog.LevelInfo,
//	    LogDir:  "/var/log/conversionpulse",
//	    Service: "conversion",
//	})
//	defer logger.Close()
//
// This creates log files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use; the underlying slog.Logger is
// thread-safe and the file handle is written through slog only.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
)

// Config configures a Logger. The zero value logs Info+ as text to
// stderr.
//
// # Fields
//
//   - Level: minimum level; messages below it are discarded
//   - LogDir: when set, adds a JSON log file under this directory
//   - Service: attached to every entry as the "service" attribute
//   - JSON: force JSON on stderr even on a terminal
//   - Quiet: disable stderr output entirely (file-only daemons)
//   - Writer: override the stderr destination (tests)
type Config struct {
	Level   slog.Level
	LogDir  string
	Service string
	JSON    bool
	Quiet   bool
	Writer  io.Writer
}

// Logger wraps slog.Logger with log file lifecycle management.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a Logger from config. Call Close when file logging is
// enabled so the file is flushed on shutdown. A failure to open the
// log file degrades to stderr-only rather than failing startup.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level}

	out := config.Writer
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !config.Quiet {
		useJSON := config.JSON
		if !useJSON {
			// Daemon logs get scraped; keep text for humans only.
			if f, ok := out.(*os.File); ok {
				useJSON = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
			}
		}
		if useJSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{}
	if config.LogDir != "" {
		if file, err := openLogFile(config.LogDir, config.Service); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.Logger = slog.New(handler)
	return logger
}

// Default returns a stderr-only Info-level logger.
func Default() *Logger {
	return New(Config{Service: "conversionpulse"})
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if service == "" {
		service = "conversionpulse"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// multiHandler fans a record out to every destination. A failure on one
// destination does not suppress the others; the first error wins.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
