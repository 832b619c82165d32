package tenancy

import "context"

type ctxKey string

const (
	tenantKey ctxKey = "reserva.tenant_id"
	actorKey  ctxKey = "reserva.actor"
)

// WithTenantID stores the tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(tenantKey).(string)
	return val, ok && val != ""
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the acting principal, or "system".
func ActorFromContext(ctx context.Context) string {
	if val, ok := ctx.Value(actorKey).(string); ok && val != "" {
		return val
	}
	return "system"
}
