package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/71lols/paradigm-website/pkg/apperr"
	"github.com/71lols/paradigm-website/pkg/httpx"
)

// Resolver runs the full resolution pipeline: bearer extraction,
// verification, claim merge, and the best-effort secondary profile
// lookup.
type Resolver struct {
	Verifier Verifier
	// Profiles is optional; a failed lookup never fails resolution once
	// the primary verification has succeeded.
	Profiles ProfileFetcher
}

// Resolve verifies the credential and builds the request principal.
func (r *Resolver) Resolve(ctx context.Context, token string) (Principal, error) {
	if r == nil || r.Verifier == nil {
		return Principal{}, apperr.New(apperr.Unexpected, "verifier not configured")
	}
	claims, err := r.Verifier.Verify(ctx, token)
	if err != nil {
		return Principal{}, apperr.Wrap(apperr.Unauthenticated, "invalid or expired token", err)
	}
	p := Principal{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Role:          claims.Role,
		Extra:         claims.Extra,
	}
	if r.Profiles != nil && (p.Email == "" || !p.EmailVerified) {
		if profile, err := r.Profiles.FetchProfile(ctx, p.Subject); err == nil {
			if p.Email == "" {
				p.Email = profile.Email
			}
			if !p.EmailVerified && profile.EmailVerified {
				p.EmailVerified = true
			}
		}
	}
	return p, nil
}

// BearerToken extracts the credential from a standard Authorization
// header; empty means no usable credential was presented.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// Required rejects requests without a valid credential.
func Required(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				httpx.WriteAppError(w, apperr.New(apperr.Unauthenticated, "no token provided or invalid format"))
				return
			}
			p, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				httpx.WriteAppError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Optional resolves a credential when one is presented but never fails
// the request: a missing, malformed or expired token simply proceeds
// anonymously. The verifier's raw error stays in the server log.
func Optional(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			p, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				log.Printf("auth: optional resolution failed: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole gates a subtree on the principal's effective role.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.WriteAppError(w, apperr.New(apperr.Unauthenticated, "user not authenticated"))
				return
			}
			if !HasAnyRole(p, roles...) {
				httpx.WriteAppError(w, apperr.New(apperr.Forbidden, "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
