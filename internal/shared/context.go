package shared

import (
	"context"
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

// Identity is the authenticated caller attached to a request after token
// verification: the resolved effective role plus the token metadata the
// logout path needs.
type Identity struct {
	Role      authz.EffectiveRole
	TokenID   string
	ExpiresAt time.Time
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. Nil means the
// request never passed authentication.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
