package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   *Logger
	defaultLoggerMu sync.RWMutex
)

func init() {
	defaultLogger = New(&Options{Level: "info", Format: "json", ServiceName: "paperpilot", Environment: "local"})
}

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the logger used when ctx carries none.
// Parameters:
//   - l: logger to install; nil is ignored.
//
// Returns: none.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns ctx carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from ctx.
// Parameters:
//   - ctx: context to inspect; may be nil.
//
// Returns:
//   - *Logger: the attached logger or the default one.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns ctx whose logger carries one extra field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns ctx whose logger carries the extra fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

func SetJobID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldJobID, id)
}

func SetUserID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldUserID, id)
}

func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

// GetRequestID returns the request id attached to ctx, or "".
func GetRequestID(ctx context.Context) string {
	v, _ := FromContext(ctx).Data[FieldRequestID].(string)
	return v
}
