// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is a thin per-source logging facade over zap, used the way
// the rest of this module expects: one Logger per package, created once
// at package init time with NewLogger(source).
package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the per-source logging interface used throughout this module.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})

	// EnableDebug enables or disables debug messages for this Logger,
	// returning the previous setting.
	EnableDebug(bool) bool
	// DebugEnabled reports whether debug messages are enabled.
	DebugEnabled() bool

	// Source returns this Logger's source name.
	Source() string
}

var (
	mutex   sync.Mutex
	base    *zap.Logger
	debug   = os.Getenv("MPIPIN_DEBUG") != ""
	loggers = map[string]*sourceLogger{}
)

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	// Debug output is gated per source by sourceLogger.debug (see
	// EnableDebug), so the backend itself lets debug messages through.
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

type sourceLogger struct {
	source string
	debug  bool
	sugar  *zap.SugaredLogger
}

// NewLogger creates or returns the Logger for the given source name.
func NewLogger(source string) Logger {
	mutex.Lock()
	defer mutex.Unlock()

	if l, ok := loggers[source]; ok {
		return l
	}

	l := &sourceLogger{
		source: source,
		debug:  debug,
		sugar:  base.Sugar().Named(source),
	}
	loggers[source] = l
	return l
}

// Default returns the logger for the "default" source, mirroring the
// teacher's package-level convenience logger.
func Default() Logger {
	return NewLogger("default")
}

func (l *sourceLogger) format(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func (l *sourceLogger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.sugar.Debug(l.format(format, args...))
}

func (l *sourceLogger) Info(format string, args ...interface{}) {
	l.sugar.Info(l.format(format, args...))
}

func (l *sourceLogger) Warn(format string, args ...interface{}) {
	l.sugar.Warn(l.format(format, args...))
}

func (l *sourceLogger) Error(format string, args ...interface{}) {
	l.sugar.Error(l.format(format, args...))
}

func (l *sourceLogger) Fatal(format string, args ...interface{}) {
	l.sugar.Fatal(l.format(format, args...))
}

func (l *sourceLogger) EnableDebug(state bool) bool {
	mutex.Lock()
	defer mutex.Unlock()
	prev := l.debug
	l.debug = state
	return prev
}

func (l *sourceLogger) DebugEnabled() bool {
	mutex.Lock()
	defer mutex.Unlock()
	return l.debug
}

func (l *sourceLogger) Source() string {
	return l.source
}
