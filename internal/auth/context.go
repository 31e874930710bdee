package auth

import (
	"context"
	"net/http"

	"github.com/hearth-ehr/hearth/internal/rbac"
)

type sessionContextKey struct{}

type principalContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p rbac.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal resolved by Authenticator.
func PrincipalFromContext(ctx context.Context) (rbac.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(rbac.Principal)
	return p, ok && p.ID != ""
}

// PrincipalFromRequest satisfies rbac.PrincipalFunc.
func PrincipalFromRequest(r *http.Request) (rbac.Principal, bool) {
	return PrincipalFromContext(r.Context())
}

var _ rbac.PrincipalFunc = PrincipalFromRequest
