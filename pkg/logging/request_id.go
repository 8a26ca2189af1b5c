package logging

import (
	"context"

	"github.com/google/uuid"
)

// GetRequestIDFromCtx returns the request id carried by ctx, or "" when none
// was attached.
func GetRequestIDFromCtx(ctx context.Context) string {
	if s, ok := ctx.Value(reqKey).(string); ok {
		return s
	}
	return ""
}

// MakeContextWithRequestID attaches an externally supplied request id.
func MakeContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, reqKey, requestID)
}

// MakeContextWithNewRequestID attaches a freshly generated request id.
func MakeContextWithNewRequestID(ctx context.Context) context.Context {
	return MakeContextWithRequestID(ctx, uuid.NewString())
}
