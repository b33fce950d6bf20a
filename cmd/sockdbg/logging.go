// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bassosimone/sockpoll/internal/config"
)

// newLogger returns a JSON logger writing to a rotated file, or a logger
// discarding everything when no file is configured, since the terminal
// belongs to the UI. The returned closer is nil in the latter case.
func newLogger(c config.LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	if c.File == "" {
		return slog.New(slog.DiscardHandler), nil, nil
	}
	sink := &lumberjack.Logger{
		Filename:   c.File,
		MaxSize:    c.Rotation.MaxSizeMB,
		MaxBackups: c.Rotation.MaxBackups,
		MaxAge:     c.Rotation.MaxAgeDays,
		Compress:   c.Rotation.Compress,
	}
	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level})
	return slog.New(handler), sink, nil
}
