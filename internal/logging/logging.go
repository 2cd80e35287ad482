package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Logger is a leveled key/value logger that writes to the console.
type Logger struct {
	entry *log.Entry
}

// NewLogger creates a new Logger writing text at info level to stdout.
func NewLogger() *Logger {
	return New(os.Stdout, "info", "text")
}

// New creates a Logger for the given level ("debug", "info", "warn",
// "error") and format ("text" or "json").
func New(w io.Writer, level, format string) *Logger {
	base := log.New()
	base.SetOutput(w)
	base.SetLevel(parseLevel(level))
	if strings.EqualFold(format, "json") {
		base.SetFormatter(&log.JSONFormatter{})
	} else {
		base.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	return &Logger{entry: log.NewEntry(base)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error", "text")
}

// With returns a Logger that adds the given key/value pairs to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(args))}
}

// WithModule tags every record with the emitting module.
func (l *Logger) WithModule(module string) *Logger {
	return l.With("module", module)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Info(msg)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Error(msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

// fields pairs up alternating keys and values. A trailing key without a
// value is kept under "!BADKEY".
func fields(args []any) log.Fields {
	f := make(log.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		f[key] = value
	}
	return f
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
