package logging

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/config"
)

// Fields represents structured logging fields
type Fields = logrus.Fields

// NewLogger creates a JSON logger at the level set by LOG_LEVEL
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewServiceLogger returns an entry that tags every line with the service name
func NewServiceLogger(serviceName string) *logrus.Entry {
	return NewLogger().WithField("service", serviceName)
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
