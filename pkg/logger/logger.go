package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	return [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}[l]
}

// ParseLevel converts a level name to a LogLevel, defaulting to INFO
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a structured logger
type Logger struct {
	level      LogLevel
	writer     io.Writer
	structured bool // JSON output if true
}

// entry is the serialized form of one log line
type entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(INFO, os.Stdout, false))
}

// NewLogger creates a new logger instance
func NewLogger(level LogLevel, writer io.Writer, structured bool) *Logger {
	return &Logger{
		level:      level,
		writer:     writer,
		structured: structured,
	}
}

// SetDefault sets the process-wide default logger
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Log logs a message with the given level and fields
func (l *Logger) Log(level LogLevel, message string, fields map[string]interface{}) {
	l.write(level, message, nil, fields)
}

// LogError logs a message with an attached error
func (l *Logger) LogError(level LogLevel, message string, err error, fields map[string]interface{}) {
	l.write(level, message, err, fields)
}

func (l *Logger) write(level LogLevel, message string, err error, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Fields:    fields,
	}
	if err != nil {
		e.Error = err.Error()
	}

	if l.structured {
		data, _ := json.Marshal(e)
		fmt.Fprintln(l.writer, string(data))
		return
	}

	msg := fmt.Sprintf("[%s] %s: %s", e.Timestamp, e.Level, e.Message)
	if len(e.Fields) > 0 {
		msg += fmt.Sprintf(" %+v", e.Fields)
	}
	if e.Error != "" {
		msg += fmt.Sprintf(" error=%s", e.Error)
	}
	fmt.Fprintln(l.writer, msg)
}

// Convenience methods for the default logger

func Debug(message string, fields map[string]interface{}) {
	defaultLogger.Load().Log(DEBUG, message, fields)
}

func Info(message string, fields map[string]interface{}) {
	defaultLogger.Load().Log(INFO, message, fields)
}

func Warn(message string, fields map[string]interface{}) {
	defaultLogger.Load().Log(WARN, message, fields)
}

func Error(message string, err error, fields map[string]interface{}) {
	defaultLogger.Load().LogError(ERROR, message, err, fields)
}

func Fatal(message string, err error, fields map[string]interface{}) {
	defaultLogger.Load().LogError(FATAL, message, err, fields)
	os.Exit(1)
}

// FieldLogger is a logger with a preset field set
type FieldLogger struct {
	fields map[string]interface{}
}

// WithFields creates a logger that attaches fields to every message
func WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{fields: fields}
}

func (f *FieldLogger) Debug(message string) {
	defaultLogger.Load().Log(DEBUG, message, f.fields)
}

func (f *FieldLogger) Info(message string) {
	defaultLogger.Load().Log(INFO, message, f.fields)
}

func (f *FieldLogger) Warn(message string) {
	defaultLogger.Load().Log(WARN, message, f.fields)
}

func (f *FieldLogger) Error(message string, err error) {
	defaultLogger.Load().LogError(ERROR, message, err, f.fields)
}

// With returns a derived logger with additional fields
func (f *FieldLogger) With(fields map[string]interface{}) *FieldLogger {
	merged := make(map[string]interface{}, len(f.fields)+len(fields))
	for k, v := range f.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &FieldLogger{fields: merged}
}
