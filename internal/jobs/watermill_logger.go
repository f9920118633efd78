package jobs

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"

	"github.com/timmy/paperpilot/internal/logger"
)

// loggerAdapter routes watermill's internal logging through the service logger.
type loggerAdapter struct {
	l *logger.Logger
}

// NewLoggerAdapter wraps l as a watermill.LoggerAdapter.
func NewLoggerAdapter(l *logger.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{l: l.WithField(logger.FieldComponent, "watermill")}
}

func (a *loggerAdapter) entry(fields watermill.LogFields) *logrus.Entry {
	return a.l.Entry.WithFields(logrus.Fields(fields))
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.entry(fields).WithError(err).Error(msg)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.entry(fields).Info(msg)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.entry(fields).Debug(msg)
}

func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.entry(fields).Trace(msg)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{l: a.l.WithFields(logger.Fields(fields))}
}
