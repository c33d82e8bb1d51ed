// Copyright HAPI Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type loggingOptions struct {
	level  string
	format string
}

// newLogger builds a slog.Logger backed by zap writing to w.
func newLogger(opts loggingOptions, w io.Writer) (*slog.Logger, error) {
	var sl slog.Level
	if err := sl.UnmarshalText([]byte(opts.level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", opts.level)
	}
	// zapr handles slog records natively: debug maps to zap level -4, the other
	// levels to their zap counterpart.
	level := zapcore.Level(sl)
	switch {
	case sl >= slog.LevelError:
		level = zapcore.ErrorLevel
	case sl >= slog.LevelWarn:
		level = zapcore.WarnLevel
	case sl >= slog.LevelInfo:
		level = zapcore.InfoLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch opts.format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format: %s", opts.format)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	logger := zapr.NewLogger(zap.New(core))
	return slog.New(logr.ToSlogHandler(logger)), nil
}
