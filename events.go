package hookscan

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Severity classifies a diagnostic event.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Event is one structured diagnostic record. The registry emits an Event for
// every hook state transition; the scanner and sequencer emit them for scan
// outcomes. Events are the only data this package pushes outward.
type Event struct {
	Time      time.Time
	Component string
	Severity  Severity
	Message   string
	HookID    string
	Addr      uintptr
}

// Sink receives diagnostic events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Event)
}

// NopSink drops every event. It is the default sink.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// SlogSink forwards events to a *slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(e Event) {
	lvl := slog.LevelInfo
	switch e.Severity {
	case SeverityDebug:
		lvl = slog.LevelDebug
	case SeverityWarn:
		lvl = slog.LevelWarn
	case SeverityError:
		lvl = slog.LevelError
	}
	attrs := []slog.Attr{slog.String("component", e.Component)}
	if e.HookID != "" {
		attrs = append(attrs, slog.String("hook", e.HookID))
	}
	if e.Addr != 0 {
		attrs = append(attrs, slog.String("addr", fmt.Sprintf("%#x", e.Addr)))
	}
	s.Logger.LogAttrs(context.Background(), lvl, e.Message, attrs...)
}
