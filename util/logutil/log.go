// Copyright 2017 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil configures the process-wide zap logger and hands out
// contextual loggers.
package logutil

import (
	"context"

	"github.com/pingcap/errors"
	zaplog "github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	// DefaultLogMaxSize is the default size of log files, in MB.
	DefaultLogMaxSize = 300
	// DefaultLogFormat is the default format of the log.
	DefaultLogFormat = "text"
)

// LogConfig serializes log related config in toml/json.
type LogConfig struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string
	// Format is one of text or json.
	Format string
	// File is the log file path; empty logs to stderr.
	File string
	// DisableTimestamp suppresses timestamps, useful when piped to journald.
	DisableTimestamp bool
}

// InitZapLogger initializes the global zap logger with cfg.
func InitZapLogger(cfg *LogConfig) error {
	format := cfg.Format
	if format == "" {
		format = DefaultLogFormat
	}
	fileCfg := zaplog.FileLogConfig{}
	if len(cfg.File) != 0 {
		fileCfg = zaplog.FileLogConfig{
			MaxSize:  DefaultLogMaxSize,
			Filename: cfg.File,
		}
	}
	gl, props, err := zaplog.InitLogger(&zaplog.Config{
		Level:            cfg.Level,
		Format:           format,
		DisableTimestamp: cfg.DisableTimestamp,
		File:             fileCfg,
	})
	if err != nil {
		return errors.Trace(err)
	}
	zaplog.ReplaceGlobals(gl, props)
	return nil
}

// SetLevel sets the zap logger's level.
func SetLevel(level string) error {
	l := zap.NewAtomicLevel()
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return errors.Trace(err)
	}
	zaplog.SetLevel(l.Level())
	return nil
}

type ctxKeyType int

const ctxLogKey ctxKeyType = iota

// Logger gets a contextual logger from current context.
// contextual logger will output common fields from context.
func Logger(ctx context.Context) *zap.Logger {
	if ctxlogger, ok := ctx.Value(ctxLogKey).(*zap.Logger); ok {
		return ctxlogger
	}
	return zaplog.L()
}

// WithKeyValue attaches key/value to context.
func WithKeyValue(ctx context.Context, key, value string) context.Context {
	var logger *zap.Logger
	if ctxLogger, ok := ctx.Value(ctxLogKey).(*zap.Logger); ok {
		logger = ctxLogger
	} else {
		logger = zaplog.L()
	}
	return context.WithValue(ctx, ctxLogKey, logger.With(zap.String(key, value)))
}
