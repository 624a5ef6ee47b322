// Package tenant binds the calling tenant to a Postgres session/transaction
// so row-level security policies can enforce isolation without every query
// carrying an explicit WHERE tenant = $1.
package tenant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Header is the HTTP header carrying the tenant identifier.
const Header = "X-Tenant-ID"

// contextKey is unexported to keep the tenant value namespaced in context.Context.
type contextKey struct{}

// WithContext returns a context carrying tenant as the active tenant.
func WithContext(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext extracts the active tenant, if any ("" means the default/no
// tenant, which RLS policies treat as NULL).
func FromContext(ctx context.Context) string {
	t, _ := ctx.Value(contextKey{}).(string)
	return t
}

// Bind sets app.current_tenant for the lifetime of tx using SET LOCAL, so
// the setting is automatically unwound when the transaction ends and never
// leaks across pooled connections.
func Bind(ctx context.Context, tx pgx.Tx, t string) error {
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", t); err != nil {
		return fmt.Errorf("bind tenant: %w", err)
	}
	return nil
}
