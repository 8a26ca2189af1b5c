package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetRequestIDFromCtx(ctx))

	ctx = MakeContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", GetRequestIDFromCtx(ctx))
}

func TestNewRequestIDsAreDistinct(t *testing.T) {
	a := GetRequestIDFromCtx(MakeContextWithNewRequestID(context.Background()))
	b := GetRequestIDFromCtx(MakeContextWithNewRequestID(context.Background()))

	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
}
