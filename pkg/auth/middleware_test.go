package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/71lols/paradigm-website/pkg/apperr"
)

type stubTokenVerifier struct {
	claims Claims
	err    error
}

func (s stubTokenVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	return s.claims, s.err
}

type stubProfileFetcher struct {
	profile Profile
	err     error
	calls   int
}

func (s *stubProfileFetcher) FetchProfile(ctx context.Context, subject string) (Profile, error) {
	s.calls++
	return s.profile, s.err
}

func TestResolveFillsProfileGaps(t *testing.T) {
	profiles := &stubProfileFetcher{profile: Profile{Email: "alice@example.com", EmailVerified: true}}
	r := &Resolver{
		Verifier: stubTokenVerifier{claims: Claims{Subject: "user-1"}},
		Profiles: profiles,
	}

	p, err := r.Resolve(context.Background(), "token")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Email != "alice@example.com" || !p.EmailVerified {
		t.Fatalf("expected profile to fill claim gaps, got %+v", p)
	}
	if profiles.calls != 1 {
		t.Fatalf("expected one profile lookup, got %d", profiles.calls)
	}
}

func TestResolveClaimsWinOverProfile(t *testing.T) {
	profiles := &stubProfileFetcher{profile: Profile{Email: "stale@example.com", EmailVerified: false}}
	r := &Resolver{
		Verifier: stubTokenVerifier{claims: Claims{Subject: "user-1", Email: "fresh@example.com", EmailVerified: true}},
		Profiles: profiles,
	}

	p, err := r.Resolve(context.Background(), "token")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Email != "fresh@example.com" || !p.EmailVerified {
		t.Fatalf("verified claims must win, got %+v", p)
	}
	if profiles.calls != 0 {
		t.Fatalf("expected no profile lookup when claims are complete, got %d", profiles.calls)
	}
}

func TestResolveProfileFailureIsNonFatal(t *testing.T) {
	r := &Resolver{
		Verifier: stubTokenVerifier{claims: Claims{Subject: "user-1"}},
		Profiles: &stubProfileFetcher{err: ErrProfileNotFound},
	}
	p, err := r.Resolve(context.Background(), "token")
	if err != nil {
		t.Fatalf("profile failure must not fail resolution: %v", err)
	}
	if p.Subject != "user-1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestResolveVerifierFailure(t *testing.T) {
	r := &Resolver{Verifier: stubTokenVerifier{err: errors.New("signature mismatch")}}
	_, err := r.Resolve(context.Background(), "token")
	if apperr.KindOf(err) != apperr.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if apperr.PublicMessage(err) != "invalid or expired token" {
		t.Fatalf("unexpected public message %q", apperr.PublicMessage(err))
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if BearerToken(req) != "" {
		t.Fatal("expected empty token without header")
	}
	req.Header.Set("Authorization", "Basic abc")
	if BearerToken(req) != "" {
		t.Fatal("expected empty token for non-bearer scheme")
	}
	req.Header.Set("Authorization", "Bearer  tok-123 ")
	if got := BearerToken(req); got != "tok-123" {
		t.Fatalf("unexpected token %q", got)
	}
	req.Header.Set("Authorization", "bearer lower")
	if got := BearerToken(req); got != "lower" {
		t.Fatalf("expected case-insensitive scheme, got %q", got)
	}
}

func TestRequiredMiddleware(t *testing.T) {
	resolver := &Resolver{Verifier: stubTokenVerifier{claims: Claims{Subject: "user-1", Role: "admin"}}}
	var seen Principal
	handler := Required(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if seen.Subject != "user-1" {
		t.Fatalf("principal not installed: %+v", seen)
	}

	failing := &Resolver{Verifier: stubTokenVerifier{err: errors.New("bad token")}}
	handler = Required(failing)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run on failed resolution")
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on bad token, got %d", rec.Code)
	}
}

func TestOptionalMiddleware(t *testing.T) {
	resolver := &Resolver{Verifier: stubTokenVerifier{err: errors.New("bad token")}}
	var hadPrincipal bool
	handler := Optional(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadPrincipal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("optional auth must not fail the request, got %d", rec.Code)
	}
	if hadPrincipal {
		t.Fatal("expected anonymous request after failed resolution")
	}

	resolver = &Resolver{Verifier: stubTokenVerifier{claims: Claims{Subject: "user-1"}}}
	handler = Optional(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadPrincipal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !hadPrincipal {
		t.Fatal("expected principal for valid token")
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole("admin")(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", rec.Code)
	}

	req = req.WithContext(WithPrincipal(req.Context(), Principal{Subject: "user-1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for default role, got %d", rec.Code)
	}

	req = req.WithContext(WithPrincipal(req.Context(), Principal{Subject: "user-1", Role: "admin"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through for admin, got %d", rec.Code)
	}
}
