package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/71lols/paradigm-website/pkg/activectx"
	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/httpx"
	"github.com/71lols/paradigm-website/pkg/metrics"
	"github.com/71lols/paradigm-website/pkg/ratelimit"
	"github.com/71lols/paradigm-website/pkg/store"
)

type stubVerifier struct {
	tokens map[string]auth.Claims
}

func (v stubVerifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if c, ok := v.tokens[token]; ok {
		return c, nil
	}
	return auth.Claims{}, errors.New("token expired")
}

type testHarness struct {
	server  *Server
	handler http.Handler
	store   *store.Memory
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	mem := store.NewMemory()
	verifier := stubVerifier{tokens: map[string]auth.Claims{
		"alice-token": {Subject: "alice", Email: "alice@example.com", EmailVerified: true},
		"bob-token":   {Subject: "bob", Email: "bob@example.com"},
		"admin-token": {Subject: "root", Role: "admin"},
	}}
	machine := activectx.New(mem)
	machine.Metrics = metrics.NewRegistry()
	s := &Server{
		Store:    mem,
		Machine:  machine,
		Resolver: &auth.Resolver{Verifier: verifier},
		Metrics:  metrics.NewRegistry(),
		Logger:   log.New(io.Discard, "", 0),
		Keyer:    ratelimit.NewClientKeyer(""),
		Limits: ratelimit.NewSet(nil,
			ratelimit.GeneralBucket,
			ratelimit.SensitiveBucket,
			ratelimit.RecoveryBucket,
		),
		DownloadURL:         "https://downloads.example.com/latest.dmg",
		MaxRequestBodyBytes: 1 << 20,
		Now: func() time.Time {
			return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		},
	}
	return &testHarness{server: s, handler: s.Routes(""), store: mem}
}

func (h *testHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var env httpx.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return env
}

func TestHealthNeedsNoAuth(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rec := h.do(t, "GET", "/health", "", nil)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	for _, path := range []string{"/api/contexts/", "/api/activities/", "/api/auth/profile"} {
		rec := h.do(t, "GET", path, "", nil)
		if rec.Code != 401 {
			t.Fatalf("%s: status = %d, want 401", path, rec.Code)
		}
		env := decodeEnvelope(t, rec)
		if env.Success {
			t.Fatalf("%s: envelope must flag failure", path)
		}
	}
}

func TestProtectedRoutesRejectExpiredToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rec := h.do(t, "GET", "/api/contexts/", "stale-token", nil)
	if rec.Code != 401 {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "invalid or expired token" {
		t.Fatalf("message = %q", env.Message)
	}
}

func TestDownloadRedirectsWithoutAuth(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rec := h.do(t, "GET", "/api/download/latest", "", nil)
	if rec.Code != 302 {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://downloads.example.com/latest.dmg" {
		t.Fatalf("location = %q", loc)
	}
}

// an unresolvable credential degrades the request to anonymous instead
// of blocking it
func TestDownloadRedirectsWithExpiredToken(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rec := h.do(t, "GET", "/api/download/latest", "stale-token", nil)
	if rec.Code != 302 {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
}

func TestDownloadWithoutConfiguredURL(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.server.DownloadURL = ""
	rec := h.do(t, "GET", "/api/download/latest", "", nil)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	rec := h.do(t, "GET", "/health", "", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

func TestRunWiresServerFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("AUTH_MODE", "hs256")
	t.Setenv("AUTH_HMAC_SECRET", "0123456789abcdef0123456789abcdef")

	var captured *http.Server
	listenErr := errors.New("listen stub")
	err := run(
		func(ctx context.Context, service string) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		nil,
		nil,
		func(server *http.Server) error {
			captured = server
			return listenErr
		},
	)
	if !errors.Is(err, listenErr) {
		t.Fatalf("run() = %v, want listen stub error", err)
	}
	if captured == nil || captured.Addr != ":8080" {
		t.Fatalf("unexpected server config: %+v", captured)
	}

	rec := httptest.NewRecorder()
	captured.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Fatalf("wired handler /health = %d", rec.Code)
	}
}

type scriptedConsumer struct {
	msgs []string
	idx  int
}

func (c *scriptedConsumer) ReadMessage(ctx context.Context) (events.Message, error) {
	if c.idx >= len(c.msgs) {
		return events.Message{}, io.EOF
	}
	msg := c.msgs[c.idx]
	c.idx++
	return events.Message{Value: []byte(msg)}, nil
}

func (c *scriptedConsumer) Close() error { return nil }

func TestConsumeEventsFoldsGauges(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.server.bus = &scriptedConsumer{msgs: []string{
		`{"type":"context.activated","ownerId":"alice"}`,
		`{"type":"context.activated","ownerId":"bob"}`,
		`not json`,
		`{"type":"context.deactivated","ownerId":"alice"}`,
	}}
	h.server.consumeEvents(context.Background())

	gauges := h.server.Metrics.Snapshot().Gauges
	if gauges["feed_context_activated_total"] != 2 {
		t.Fatalf("activated gauge = %v", gauges)
	}
	if gauges["feed_context_deactivated_total"] != 1 {
		t.Fatalf("deactivated gauge = %v", gauges)
	}
}

func TestRunRequiresJWKSForRS256(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("AUTH_MODE", "rs256")
	t.Setenv("AUTH_JWKS_URL", "")

	err := run(
		func(ctx context.Context, service string) (func(context.Context) error, error) {
			return func(context.Context) error { return nil }, nil
		},
		nil,
		nil,
		func(server *http.Server) error { return nil },
	)
	if err == nil {
		t.Fatal("expected missing AUTH_JWKS_URL error")
	}
}
