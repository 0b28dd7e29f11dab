package logger

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Level mirrors slog levels with a simpler switch surface for the CLI.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelVar = func() *slog.LevelVar {
	lv := &slog.LevelVar{}
	lv.Set(slog.LevelInfo)
	return lv
}()

var base atomic.Pointer[slog.Logger]

func init() {
	base.Store(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
}

// SetLevel adjusts the minimum emitted level at runtime.
func SetLevel(l Level) {
	switch l {
	case DEBUG:
		levelVar.Set(slog.LevelDebug)
	case INFO:
		levelVar.Set(slog.LevelInfo)
	case WARN:
		levelVar.Set(slog.LevelWarn)
	default:
		levelVar.Set(slog.LevelError)
	}
}

// UseTextHandler switches output to a human-friendly text handler.
// Intended for interactive CLI sessions.
func UseTextHandler() {
	base.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
}

func fieldsToAttrs(component string, fields map[string]interface{}) []any {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// DebugCF logs a debug message scoped to a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	base.Load().Debug(msg, fieldsToAttrs(component, fields)...)
}

// InfoCF logs an info message scoped to a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	base.Load().Info(msg, fieldsToAttrs(component, fields)...)
}

// WarnCF logs a warning scoped to a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	base.Load().Warn(msg, fieldsToAttrs(component, fields)...)
}

// ErrorCF logs an error scoped to a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	base.Load().Error(msg, fieldsToAttrs(component, fields)...)
}
