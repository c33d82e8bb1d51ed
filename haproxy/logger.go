// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package haproxy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogSink receives a rendered log line at a HAProxy log level.
type LogSink func(level LogLevel, msg string) error

// NewLogger creates a slog.Logger that routes records to sink, typically the log
// function of a transaction or of core. Records below minLevel are dropped before
// reaching the host.
func NewLogger(sink LogSink, minLevel slog.Level) *slog.Logger {
	return slog.New(&logHandler{sink: sink, minLevel: minLevel})
}

// LogLevelOf maps a slog level to the closest HAProxy log level.
func LogLevelOf(level slog.Level) LogLevel {
	switch {
	case level >= slog.LevelError:
		return LogLevelErr
	case level >= slog.LevelWarn:
		return LogLevelWarning
	case level >= slog.LevelInfo:
		return LogLevelInfo
	default:
		return LogLevelDebug
	}
}

// logHandler implements [slog.Handler]. It is immutable after construction, the
// With* methods return copies.
type logHandler struct {
	sink     LogSink
	minLevel slog.Level
	attrs    []slog.Attr
	groups   []string
}

// Enabled implements [slog.Handler].
func (h *logHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

// Handle implements [slog.Handler].
func (h *logHandler) Handle(_ context.Context, r slog.Record) error { // nolint:gocritic
	var b strings.Builder
	b.WriteString(r.Message)

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	if len(attrs) > 0 {
		b.WriteString(" ")
		renderAttrs(&b, h.groups, attrs)
	}
	return h.sink(LogLevelOf(r.Level), b.String())
}

// WithAttrs implements [slog.Handler].
func (h *logHandler) WithAttrs(as []slog.Attr) slog.Handler {
	h2 := h.clone()
	h2.attrs = append(h2.attrs, as...)
	return h2
}

// WithGroup implements [slog.Handler].
func (h *logHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *logHandler) clone() *logHandler {
	return &logHandler{
		sink:     h.sink,
		minLevel: h.minLevel,
		attrs:    append([]slog.Attr(nil), h.attrs...),
		groups:   append([]string(nil), h.groups...),
	}
}

func renderAttrs(b *strings.Builder, groups []string, attrs []slog.Attr) {
	prefix := ""
	if len(groups) > 0 {
		prefix = strings.Join(groups, ".") + "."
	}
	for i, a := range attrs {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(b, "%s%s=%s", prefix, a.Key, a.Value)
	}
}
