package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	rotator   io.Closer
	rotatorMu sync.Mutex
)

// Logger wraps logrus.Entry to provide structured logging with context support.
type Logger struct {
	*logrus.Entry
}

// New creates a Logger from the given options.
// Parameters:
//   - opts: logger options; nil uses OptionsFromEnv.
//
// Returns:
//   - *Logger: initialized logger tagged with the service name.
func New(opts *Options) *Logger {
	if opts == nil {
		opts = OptionsFromEnv()
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)
	log.SetFormatter(newFormatter(opts.Format))
	log.SetOutput(opts.writer())

	return &Logger{Entry: log.WithField("service", opts.ServiceName)}
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			CallerPrettyfier: callerPrettyfier,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

// writer resolves the output: an explicit writer wins, otherwise stdout
// and, outside local runs, a rotating file.
func (o *Options) writer() io.Writer {
	if o.Output != nil {
		return o.Output
	}

	var writers []io.Writer
	if o.Environment == "local" || !o.FileOnly {
		writers = append(writers, os.Stdout)
	}
	if o.Environment != "local" && o.File != "" {
		fw := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
			Compress:   o.Compress,
		}
		writers = append(writers, fw)

		rotatorMu.Lock()
		rotator = fw
		rotatorMu.Unlock()
	}
	if len(writers) == 0 {
		return os.Stdout
	}
	return io.MultiWriter(writers...)
}

// Sync closes the rotating log file, if one was opened.
// Call it before the process exits.
func Sync() error {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	if rotator != nil {
		return rotator.Close()
	}
	return nil
}

// WithFields returns a derived Logger carrying fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

// WithField returns a derived Logger carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

// WithError returns a derived Logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

func callerPrettyfier(frame *runtime.Frame) (function string, file string) {
	funcName := frame.Function
	if idx := strings.LastIndex(funcName, "/"); idx != -1 {
		funcName = funcName[idx+1:]
	}
	return funcName, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

// Info logs at Info level on the default logger.
func Info(format string, args ...interface{}) {
	GetDefault().Infof(format, args...)
}

// Warn logs at Warn level on the default logger.
func Warn(format string, args ...interface{}) {
	GetDefault().Warnf(format, args...)
}

// Error logs at Error level on the default logger.
func Error(format string, args ...interface{}) {
	GetDefault().Errorf(format, args...)
}

// Fatal logs at Fatal level on the default logger and exits.
func Fatal(format string, args ...interface{}) {
	GetDefault().Fatalf(format, args...)
}

// CtxDebug logs at Debug level with the fields carried by ctx.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at Info level with the fields carried by ctx.
func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at Warn level with the fields carried by ctx.
func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at Error level with the fields carried by ctx.
func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}
