// Package logging builds the slog loggers used by the proxy. Every handler
// is wrapped so private key material never reaches the log output.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder for redacted sensitive data.
const RedactedValue = "[REDACTED]"

var defaultSensitiveFields = []string{
	"password",
	"secret",
	"token",
	"private_key",
	"privatekey",
	"private-key",
	"pkcs8",
	"key_pem",
	"key_der",
	"credentials",
	"authorization",
}

// RedactorHandler wraps an slog.Handler and redacts sensitive fields.
type RedactorHandler struct {
	handler         slog.Handler
	sensitiveFields map[string]bool
}

// NewRedactorHandler creates a new handler that redacts sensitive fields.
// Extra field names are matched case-insensitively, like the defaults.
func NewRedactorHandler(handler slog.Handler, extraFields ...string) *RedactorHandler {
	fields := make(map[string]bool, len(defaultSensitiveFields)+len(extraFields))
	for _, f := range defaultSensitiveFields {
		fields[f] = true
	}
	for _, f := range extraFields {
		fields[strings.ToLower(f)] = true
	}
	return &RedactorHandler{handler: handler, sensitiveFields: fields}
}

// Enabled implements slog.Handler.
func (h *RedactorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
//
//nolint:gocritic // Required by slog.Handler interface
func (h *RedactorHandler) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		redacted.AddAttrs(h.redactAttr(attr))
		return true
	})

	if err := h.handler.Handle(ctx, redacted); err != nil {
		return fmt.Errorf("redactor handle failed: %w", err)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *RedactorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &RedactorHandler{handler: h.handler.WithAttrs(redacted), sensitiveFields: h.sensitiveFields}
}

// WithGroup implements slog.Handler.
func (h *RedactorHandler) WithGroup(name string) slog.Handler {
	return &RedactorHandler{handler: h.handler.WithGroup(name), sensitiveFields: h.sensitiveFields}
}

func (h *RedactorHandler) redactAttr(attr slog.Attr) slog.Attr {
	if h.isSensitiveField(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		group := attr.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, groupAttr := range group {
			redacted[i] = h.redactAttr(groupAttr)
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindString:
		if containsPEM(attr.Value.String()) {
			return slog.String(attr.Key, RedactedValue)
		}
	case slog.KindAny:
		// Raw DER or PKCS#8 bytes are never useful in a log line.
		if _, ok := attr.Value.Any().([]byte); ok {
			return slog.String(attr.Key, RedactedValue)
		}
	}

	return attr
}

func (h *RedactorHandler) isSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	if h.sensitiveFields[lower] {
		return true
	}
	for sensitive := range h.sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func containsPEM(value string) bool {
	return strings.Contains(value, "-----BEGIN ")
}
