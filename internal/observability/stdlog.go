package observability

import (
	"fmt"
	"log"
	"strings"
)

// StdLogger adapts a stdlib logger to the Logger interface with key=value
// field rendering.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

// NewStdLogger wraps the given stdlib logger. debug enables Debug output.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	return &StdLogger{logger: logger, debug: debug}
}

// Debug implements Logger.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.print("DEBUG", msg, fields)
}

// Info implements Logger.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.print("INFO", msg, fields)
}

// Error implements Logger.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.print("ERROR", msg, fields)
}

func (l *StdLogger) print(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, field := range fields {
		fmt.Fprintf(&b, " %s=%v", field.Key, field.Value)
	}
	l.logger.Print(b.String())
}
