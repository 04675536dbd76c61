package logger

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// TraceHeader 客户端可通过此请求头透传 trace id
const TraceHeader = "X-Trace-ID"

// WithTraceID stores id in ctx, generating a fresh one when id is empty.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id of ctx or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
