package shared

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// OwnerIDContextKey is the context key for the authenticated owner ID
	OwnerIDContextKey ContextKey = "ownerID"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// WithOwnerID stores the owner ID in the context.
func WithOwnerID(ctx context.Context, ownerID uuid.UUID) context.Context {
	return context.WithValue(ctx, OwnerIDContextKey, ownerID)
}

// OwnerIDFromContext retrieves the owner ID set by the owner middleware.
// Returns uuid.Nil and false when absent.
func OwnerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	ownerID, ok := ctx.Value(OwnerIDContextKey).(uuid.UUID)
	if !ok || ownerID == uuid.Nil {
		return uuid.Nil, false
	}
	return ownerID, true
}

// SetTraceID adds a trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	traceID := generateTraceID()
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID creates a random trace ID for request tracking.
// Returns a 32-character hex string. If crypto/rand fails it falls back to
// a timestamp-derived value rather than a static one.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	n, err := rand.Read(b)

	if err != nil || n != TraceIDLength {
		slog.Error("failed to generate secure random trace ID",
			"error", err,
			"bytes_read", n,
			"bytes_requested", TraceIDLength)

		fallback := make([]byte, TraceIDLength)
		binary.BigEndian.PutUint64(fallback[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint32(fallback[8:12], uint32(time.Now().Nanosecond()))
		binary.BigEndian.PutUint32(fallback[12:16], uint32(time.Now().Unix()))
		return hex.EncodeToString(fallback)
	}

	return hex.EncodeToString(b)
}
