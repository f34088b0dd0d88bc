package httpmw

import (
	"context"
	"time"
)

// contextKey is a private type for context keys defined in this package.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	startTimeKey contextKey = "start_time"
)

// RequestID extracts the request id from the context. Returns empty string
// if not set.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// StartTime extracts the request start time from the context. Returns zero
// time if not set.
func StartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
