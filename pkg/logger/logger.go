// Copyright 2025 UMH Systems GmbH
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

// Package logger builds the process-wide zap logger and hands out named
// loggers per component.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the encoder.
type Format string

const (
	// FormatConsole writes " | " separated, colored lines.
	FormatConsole Format = "CONSOLE"
	FormatJSON    Format = "JSON"
)

// Options configures New.
type Options struct {
	Level  zapcore.Level
	Format Format
	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel accepts zap's level names in any case. PRODUCTION and unknown
// values mean info.
func ParseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}

	return level
}

// ParseFormat falls back to FormatConsole for anything but JSON.
func ParseFormat(s string) Format {
	if Format(strings.ToUpper(strings.TrimSpace(s))) == FormatJSON {
		return FormatJSON
	}

	return FormatConsole
}

// OptionsFromEnv reads LOGGING_LEVEL and LOGGING_FORMAT.
func OptionsFromEnv() Options {
	return Options{
		Level:  ParseLevel(os.Getenv("LOGGING_LEVEL")),
		Format: ParseFormat(os.Getenv("LOGGING_FORMAT")),
	}
}

func encoder(format Format) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == FormatJSON {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05 MST")
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}

// New builds a logger from opts.
func New(opts Options) *zap.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(encoder(opts.Format), zapcore.Lock(zapcore.AddSync(out)), zap.NewAtomicLevelAt(opts.Level))

	return zap.New(core, zap.AddCaller())
}

var (
	setup sync.Once
	ready bool
)

// Initialize installs the logger described by the environment as zap's global
// logger. Only the first call has an effect.
func Initialize() {
	setup.Do(func() {
		opts := OptionsFromEnv()
		log := New(opts)
		zap.ReplaceGlobals(log)
		ready = true

		log.Debug("Logging configured", zap.Stringer("level", opts.Level), zap.String("format", string(opts.Format)))
	})
}

// Sync flushes buffered entries of the global logger.
func Sync() error {
	return zap.L().Sync()
}

// For returns the global logger named after component.
func For(component string) *zap.SugaredLogger {
	if !ready {
		Initialize()
	}

	return zap.S().Named(component)
}
