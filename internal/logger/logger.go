// Package logger wraps a single logrus instance used across the service.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
}

// Configure sets the level from a string such as "debug" or "warn".
// Unknown levels keep the default (info).
func Configure(level string) {
	level = strings.TrimSpace(strings.ToLower(level))
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.Warnf("invalid log level %q, defaulting to info", level)
		return
	}
	log.SetLevel(lvl)
}

// SetOutput redirects log output. Tests use it with io.Discard.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Fields is an alias so callers do not need to import logrus.
type Fields = logrus.Fields

// WithFields returns an entry carrying the given fields.
func WithFields(fields Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithError returns an entry carrying err under the "error" key.
func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}
