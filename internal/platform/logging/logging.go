// Package logging builds the structured loggers shared by service processes.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Debug bool
	// JSON switches from text to JSON output.
	JSON bool
	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger tagged with the service name.
func New(service string, cfg Config) *log.Entry {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if cfg.Output != nil {
		logger.SetOutput(cfg.Output)
	}
	if cfg.JSON {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	logger.SetLevel(log.InfoLevel)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger.WithField("service", service)
}

// Discard returns a logger that drops everything.
func Discard() log.FieldLogger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

// OrDiscard returns logger, or a discarding logger when nil.
func OrDiscard(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		return Discard()
	}
	return logger
}
