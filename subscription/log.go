package subscription

import (
	"log"
	"os"
)

// Logger is the logging sink the worker writes diagnostic messages to.
// The worker holds no process-wide logging state; a Logger is always
// supplied explicitly via WithLogger (or defaults to DefaultLogger()).
type Logger interface {
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

type stdLogger struct {
	logger *log.Logger
}

var _ Logger = (*stdLogger)(nil)

func (s *stdLogger) Infof(format string, v ...interface{}) {
	s.logger.Printf("INFO  "+format, v...)
}

func (s *stdLogger) Warnf(format string, v ...interface{}) {
	s.logger.Printf("WARN  "+format, v...)
}

func (s *stdLogger) Errorf(format string, v ...interface{}) {
	s.logger.Printf("ERROR "+format, v...)
}

// DefaultLogger returns a Logger that writes to stderr with standard flags.
func DefaultLogger() Logger {
	return &stdLogger{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}
