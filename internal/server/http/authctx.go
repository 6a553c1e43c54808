package httpserver

import "context"

type ctxKey string

const requestIDKey ctxKey = "qris.requestID"

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx fetches the request ID from context.
func RequestIDFromCtx(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}
