package middleware

import (
	"context"
)

type contextKey string

const serviceContextKey contextKey = "service_context"

// ServiceContext identifies the authenticated calling service.
type ServiceContext struct {
	Service string
	TokenID string // jti
}

func GetServiceContext(ctx context.Context) (*ServiceContext, bool) {
	val, ok := ctx.Value(serviceContextKey).(*ServiceContext)
	return val, ok
}

func WithServiceContext(ctx context.Context, sc *ServiceContext) context.Context {
	return context.WithValue(ctx, serviceContextKey, sc)
}
