// Package auth turns bearer credentials into request-scoped principals
// and hosts the role and ownership checks every handler funnels
// through.
package auth

import (
	"context"
	"strings"

	"github.com/71lols/paradigm-website/pkg/apperr"
)

// Principal is the resolved identity of the caller for one request.
// It is immutable after construction and never persisted; handlers read
// it from the request context.
type Principal struct {
	Subject       string
	Email         string
	EmailVerified bool
	Role          string
	// Extra holds verified custom claims that do not collide with the
	// reserved fields above. Reserved fields always win a collision.
	Extra map[string]any
}

const DefaultRole = "user"

// EffectiveRole is the role the authorization gate sees: an absent or
// empty role claim means "user".
func (p Principal) EffectiveRole() string {
	role := strings.TrimSpace(p.Role)
	if role == "" {
		return DefaultRole
	}
	return role
}

type contextKey string

const principalContextKey contextKey = "paradigm.principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	v := ctx.Value(principalContextKey)
	if v == nil {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// HasAnyRole is the authorization gate: pure, deterministic,
// case-insensitive on role names. An empty required set allows.
func HasAnyRole(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	role := strings.ToLower(p.EffectiveRole())
	for _, r := range required {
		if strings.ToLower(strings.TrimSpace(r)) == role {
			return true
		}
	}
	return false
}

// RequireOwner is the ownership guard shared by every owner-scoped
// resource type. Callers must resolve NotFound before invoking it so
// nonexistence is never disclosed as Forbidden.
func RequireOwner(p Principal, ownerID string) error {
	if p.Subject == "" {
		return apperr.New(apperr.Unauthenticated, "user not authenticated")
	}
	if ownerID != p.Subject {
		return apperr.New(apperr.Forbidden, "access denied")
	}
	return nil
}
