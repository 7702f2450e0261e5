// Package utils provides utility functions for the relay
package utils

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llm-relay/relay/pkg/types"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a new logger instance with specified configuration
func NewLogger(config *types.LoggingConfig) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	} else if config.Output != "" && config.Output != "stdout" {
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logger.WithError(err).Error("Failed to open log file, falling back to stdout")
			output = os.Stdout
		} else {
			output = file
		}
	}
	logger.SetOutput(output)

	return &Logger{Logger: logger}
}

// NewNopLogger creates a logger that discards all output. Intended for tests.
func NewNopLogger() *Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Logger{Logger: logger}
}

// WithRequestID adds request ID to log context
func (l *Logger) WithRequestID(requestID string) *logrus.Entry {
	return l.WithField("request_id", requestID)
}

// WithProvider adds provider information to log context
func (l *Logger) WithProvider(provider string) *logrus.Entry {
	return l.WithField("provider", provider)
}

// WithTask adds task type to log context
func (l *Logger) WithTask(task types.TaskType) *logrus.Entry {
	return l.WithField("task_type", string(task))
}

// WithDuration adds duration to log context
func (l *Logger) WithDuration(duration time.Duration) *logrus.Entry {
	return l.WithField("duration_ms", duration.Milliseconds())
}

// LogProviderCall logs the start of a provider attempt
func (l *Logger) LogProviderCall(provider, model, requestID string) {
	l.WithFields(logrus.Fields{
		"type":       "provider_call",
		"request_id": requestID,
		"provider":   provider,
		"model":      model,
	}).Debug("Provider call started")
}

// LogProviderOutcome logs the terminal outcome of a provider attempt
func (l *Logger) LogProviderOutcome(provider, requestID string, err error, duration time.Duration, retries int) {
	entry := l.WithFields(logrus.Fields{
		"type":        "provider_outcome",
		"request_id":  requestID,
		"provider":    provider,
		"duration_ms": duration.Milliseconds(),
		"retries":     retries,
	})

	if err != nil {
		entry.WithError(err).Warn("Provider attempt failed")
	} else {
		entry.Info("Provider attempt succeeded")
	}
}
