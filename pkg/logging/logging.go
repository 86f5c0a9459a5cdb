package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

type Fields struct {
	Level      Level
	Service    string
	OrderID    string
	PaymentID  string
	EventID    string
	UserID     string
	Step       string
	Status     string
	DurationMS int64
	Message    string
	Err        error
}

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Init replaces the process logger. Records below level are dropped.
func Init(w io.Writer, level Level) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps "debug", "info", "warn" and "error"; anything else is info.
func ParseLevel(s string) Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return l
}

func Log(fields Fields) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	attrs := make([]slog.Attr, 0, 10)
	attrs = append(attrs, slog.String("service", fields.Service))
	if fields.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", fields.OrderID))
	}
	if fields.PaymentID != "" {
		attrs = append(attrs, slog.String("payment_id", fields.PaymentID))
	}
	if fields.EventID != "" {
		attrs = append(attrs, slog.String("event_id", fields.EventID))
	}
	if fields.UserID != "" {
		attrs = append(attrs, slog.String("user_id", fields.UserID))
	}
	if fields.Step != "" {
		attrs = append(attrs, slog.String("step", fields.Step))
	}
	if fields.Status != "" {
		attrs = append(attrs, slog.String("status", fields.Status))
	}
	if fields.DurationMS > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", fields.DurationMS))
	}
	if fields.Err != nil {
		attrs = append(attrs, slog.String("error", fields.Err.Error()))
	}

	level := fields.Level
	if fields.Err != nil && level < LevelWarn {
		level = LevelError
	}
	l.LogAttrs(context.Background(), level, fields.Message, attrs...)
}
