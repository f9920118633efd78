package logger

import (
	"context"
	"time"
)

// Entry carries metric fields for a single log line.
// Example: logger.With(logger.Fields{logger.FieldCount: 3}).Info(ctx, "branch finished")
type Entry struct {
	fields Fields
}

// With starts an Entry with the given metric fields.
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// With merges more fields into a copy of e.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{fields: merged}
}

// WithDuration records the elapsed time since start in milliseconds.
func (e *Entry) WithDuration(start time.Time) *Entry {
	return e.With(Fields{FieldDurationMs: time.Since(start).Milliseconds()})
}

func (e *Entry) WithCount(n int) *Entry {
	return e.With(Fields{FieldCount: n})
}

func (e *Entry) WithStatus(status string) *Entry {
	return e.With(Fields{FieldStatus: status})
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Debugf(format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Infof(format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Warnf(format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Errorf(format, args...)
}
