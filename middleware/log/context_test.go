package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	ctx := WithTraceID(context.Background(), "trace-1")
	assert.Equal(t, "trace-1", TraceID(ctx))

	// 覆盖父 context 中的值
	assert.Equal(t, "trace-2", TraceID(WithTraceID(ctx, "trace-2")))

	generated := TraceID(WithTraceID(context.Background(), ""))
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	type otherKey struct{}
	parent := context.WithValue(context.Background(), otherKey{}, "kept")
	child := WithTraceID(parent, "t")
	assert.Equal(t, "kept", child.Value(otherKey{}))
}
