// Package logging builds the logrus loggers used across the tool.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Field names shared by every package that logs.
const (
	FieldRunID   = "run_id"
	FieldPattern = "pattern"
	FieldChunk   = "chunk"
	FieldModel   = "model"
	FieldAttempt = "attempt"
	FieldDelay   = "delay"
	FieldKind    = "kind"
	FieldState   = "state"
)

// New creates a logger writing to w. level is one of debug, info, warn,
// error (empty means info). JSON output is meant for log shippers; the text
// format is for terminals.
func New(w io.Writer, level string, json bool) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(lvl)
	if json {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return base, nil
}

// ParseLevel accepts debug, info, warn, warning and error.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", level)
	}
}

// Discard returns a logger that drops everything. Packages use it when the
// caller supplies no logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// NewRunID returns a fresh identifier for one orchestration run.
func NewRunID() string {
	return uuid.NewString()
}

// WithRun attaches a run identifier to every entry.
func WithRun(l logrus.FieldLogger, runID string) *logrus.Entry {
	return l.WithField(FieldRunID, runID)
}
