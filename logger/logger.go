// Package logger implements the Logger contract spec §6 consumes:
// severities Fatal/Error/Warning/Info/Debug, log(severity, message,
// context), and withContext(obj) returning a child logger that merges its
// fields into every subsequent call. Wraps github.com/sirupsen/logrus,
// grounded on internal/observability/logging.go's Logger/LogConfig/
// NewLogger/ForComponent from the teacher.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Severity is one of spec §6's five levels. Higher values are more severe;
// a logger emits an entry when its severity >= the configured minimum,
// per spec §9's "emit when event severity ≥ minSeverity" disposition.
type Severity int

const (
	Debug Severity = iota + 1
	Info
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (s Severity) logrusLevel() logrus.Level {
	switch s {
	case Debug:
		return logrus.DebugLevel
	case Info:
		return logrus.InfoLevel
	case Warning:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	case Fatal:
		return logrus.FatalLevel
	default:
		// Above Fatal (the "none" token of spec §6): no logrus level maps to
		// genuine silence, so New additionally discards the writer itself.
		return logrus.PanicLevel
	}
}

// Logger is a structured logger at or above a minimum severity, carrying
// an accumulated context of fields from withContext calls.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing JSON to stdout at min severity, mirroring
// the teacher's NewLogger's JSONFormatter/stdout defaults.
func New(min Severity) *Logger {
	l := logrus.New()
	l.SetLevel(min.logrusLevel())
	if min > Fatal {
		// §6's "none" token: PanicLevel still emits on entry.Log(PanicLevel, ...)
		// calls, so silence requires discarding the writer itself too.
		l.SetOutput(io.Discard)
	} else {
		l.SetOutput(os.Stdout)
	}
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000Z",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return &Logger{entry: logrus.NewEntry(l)}
}

// FromEnv parses LOG_LEVEL per spec §6's accepted-value table and returns
// a Logger at that minimum severity. An empty/unset LOG_LEVEL defaults to
// Info per the table's `""` entry; an unrecognized value defaults to
// Debug and logs one warning, per spec §6.
func FromEnv() *Logger {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	switch raw {
	case "none", "0", "false":
		return New(Fatal + 1) // above Fatal: New discards the output writer
	case "debug", "d", "5":
		return New(Debug)
	case "info", "i", "4", "":
		return New(Info)
	case "warn", "w", "3":
		return New(Warning)
	case "error", "e", "2":
		return New(Error)
	case "fatal", "f", "1":
		return New(Fatal)
	default:
		l := New(Debug)
		l.log(Warning, "LOG_LEVEL not recognized, defaulting to debug", map[string]interface{}{"LOG_LEVEL": raw})
		return l
	}
}

// Log emits message at severity with context merged in as fields.
func (l *Logger) Log(severity Severity, message string, context map[string]interface{}) {
	l.log(severity, message, context)
}

func (l *Logger) log(severity Severity, message string, context map[string]interface{}) {
	entry := l.entry
	if len(context) > 0 {
		entry = entry.WithFields(logrus.Fields(context))
	}
	entry.Log(severity.logrusLevel(), message)
}

func (l *Logger) Fatal(message string, context map[string]interface{}) {
	l.log(Fatal, message, context)
}

func (l *Logger) Error(message string, context map[string]interface{}) {
	l.log(Error, message, context)
}

func (l *Logger) Warning(message string, context map[string]interface{}) {
	l.log(Warning, message, context)
}

func (l *Logger) Info(message string, context map[string]interface{}) {
	l.log(Info, message, context)
}

func (l *Logger) Debug(message string, context map[string]interface{}) {
	l.log(Debug, message, context)
}

// WithContext returns a child Logger whose fields are merged into obj's
// for every subsequent call, per spec §6's withContext(obj).
func (l *Logger) WithContext(obj map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(obj))}
}

// ForComponent scopes a child logger to a named component, grounded on
// the teacher's ForComponent helper.
func (l *Logger) ForComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}
