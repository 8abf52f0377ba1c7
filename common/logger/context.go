package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs
// within a context. Fields flow through context enrichment, so call sites
// deep inside the gate or the audit log don't have to thread a session id
// or attempt number through every log call by hand.
type LogFields struct {
	SessionID string  // process session id (see scoutid.Session)
	Attempt   *int    // gate attempt number, when logging inside validate_and_compress
	Component string  // component name, e.g. "scout.gate", "scout.audit"
	EventKind *string // audit event kind currently being emitted, if any
}

// WithLogFields enriches context with structured log fields. Multiple
// calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context. Returns an empty
// LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.SessionID != "" {
		result.SessionID = new.SessionID
	}
	if new.Attempt != nil {
		result.Attempt = new.Attempt
	}
	if new.Component != "" {
		result.Component = new.Component
	}
	if new.EventKind != nil {
		result.EventKind = new.EventKind
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for inline LogFields
// construction: logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(2)}).
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long strings like raw brief
// snippets or context previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
