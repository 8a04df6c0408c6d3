package logging

import (
	"log/slog"
	"time"
)

// Shared attribute keys so log lines stay greppable across components.
const (
	FieldComponent = "component"
	FieldProject   = "project"
	FieldVersion   = "version"
	FieldRunID     = "run_id"
	FieldFormat    = "format"
	FieldKey       = "key"
	FieldEventType = "event_type"
	FieldErrorHint = "hint"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func Project(id string) Attr { return slog.String(FieldProject, id) }

func Version(v int) Attr { return slog.Int(FieldVersion, v) }

func RunID(id string) Attr { return slog.String(FieldRunID, id) }

func Key(key string) Attr { return slog.String(FieldKey, key) }

func Format(tag string) Attr { return slog.String(FieldFormat, tag) }

// WithComponent returns a child logger tagged with a component attribute.
// A nil base falls back to the no-op logger.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}
