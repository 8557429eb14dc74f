// Copyright 2025 The LaylaOS Authors
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

// Package klog is the kernel core's logging facade: a slog.Logger underneath,
// with the kernel's five severities (TRACE, DEBUG, INFO, WARNING, ERROR) and a
// choice of text or JSON output, rotated through lumberjack when writing to a
// file. Every package that needs to log calls the package-level helpers
// rather than building its own *slog.Logger.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity mirrors the kernel's printk-style levels, ordered loosest to
// strictest so a Severity value can be compared directly against a threshold.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityOff
)

func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "TRACE"
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "OFF"
	}
}

// ParseSeverity accepts the canonical names above in all upper or all lower
// case; the empty string selects INFO.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "TRACE", "trace":
		return SeverityTrace, nil
	case "DEBUG", "debug":
		return SeverityDebug, nil
	case "INFO", "info", "":
		return SeverityInfo, nil
	case "WARNING", "warning":
		return SeverityWarning, nil
	case "ERROR", "error":
		return SeverityError, nil
	case "OFF", "off":
		return SeverityOff, nil
	default:
		return SeverityInfo, fmt.Errorf("klog: unknown severity %q", s)
	}
}

// slog levels are spaced by four so the five kernel severities map onto
// slog's own Debug/Info/Warn/Error without collisions, with TRACE one notch
// below Debug and OFF one notch above Error.
const (
	levelTrace   = slog.Level(-8)
	levelDebug   = slog.LevelDebug
	levelInfo    = slog.LevelInfo
	levelWarning = slog.LevelWarn
	levelError   = slog.LevelError
	levelOff     = slog.Level(12)
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityTrace:
		return levelTrace
	case SeverityDebug:
		return levelDebug
	case SeverityWarning:
		return levelWarning
	case SeverityError:
		return levelError
	case SeverityOff:
		return levelOff
	default:
		return levelInfo
	}
}

// Config selects output format, destination and minimum severity.
type Config struct {
	// Format is "text" or "json"; anything else defaults to "json".
	Format   string
	Severity Severity
	// FilePath, when non-empty, routes output through a rotating file
	// instead of stderr.
	FilePath        string
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

func DefaultConfig() Config {
	return Config{
		Format:          "json",
		Severity:        SeverityInfo,
		MaxFileSizeMB:   128,
		BackupFileCount: 5,
		Compress:        true,
	}
}

var (
	defaultLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(newHandler(os.Stderr, defaultLevel, "json"))
	closer        io.Closer
)

// Init reconfigures the package-level logger. Any previously opened log file
// is closed first.
func Init(cfg Config) error {
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxFileSizeMB,
			MaxBackups: cfg.BackupFileCount,
			Compress:   cfg.Compress,
		}
		out = lj
		closer = lj
	}

	format := cfg.Format
	if format != "text" {
		format = "json"
	}

	defaultLevel.Set(cfg.Severity.slogLevel())
	defaultLogger = slog.New(newHandler(out, defaultLevel, format))
	return nil
}

func newHandler(w io.Writer, level *slog.LevelVar, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.LevelKey:
				return slog.Attr{Key: "severity", Value: slog.StringValue(severityName(a.Value))}
			case slog.TimeKey:
				if format == "text" {
					return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format(timeLayout))}
				}
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: a.Value}
			}
			return a
		},
	}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

const timeLayout = "02/01/2006 15:04:05.000000"

func severityName(v slog.Value) string {
	lvl := slog.Level(v.Any().(slog.Level))
	switch {
	case lvl <= levelTrace:
		return "TRACE"
	case lvl <= levelDebug:
		return "DEBUG"
	case lvl <= levelInfo:
		return "INFO"
	case lvl <= levelWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}
func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}
func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}
func Warnf(format string, args ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}
func Errorf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}

// Close flushes and closes the current log file, if any.
func Close() error {
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}
