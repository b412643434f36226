package server

import (
	"time"

	"go.uber.org/zap/zapcore"
)

type AuditLogEntry struct {
	Timestamp  time.Time
	Handler    string
	Method     string
	Path       string
	StatusCode int
	Login      string
	OrderID    string
	OldStatus  string
	NewStatus  string
	Request    string
	Response   string
	Duration   time.Duration
}

func (e AuditLogEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("timestamp", e.Timestamp)
	enc.AddString("handler", e.Handler)
	enc.AddString("method", e.Method)
	enc.AddString("path", e.Path)
	enc.AddInt("status_code", e.StatusCode)
	enc.AddDuration("duration", e.Duration)
	if e.Login != "" {
		enc.AddString("login", e.Login)
	}
	if e.OrderID != "" {
		enc.AddString("order_id", e.OrderID)
	}
	if e.OldStatus != "" || e.NewStatus != "" {
		enc.AddString("old_status", e.OldStatus)
		enc.AddString("new_status", e.NewStatus)
	}
	if e.Request != "" {
		enc.AddString("request", e.Request)
	}
	if e.Response != "" {
		enc.AddString("response", e.Response)
	}
	return nil
}
