package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindClassification(t *testing.T) {
	base := New(NotFound, "context not found")
	if KindOf(base) != NotFound {
		t.Fatalf("unexpected kind %v", KindOf(base))
	}

	wrapped := fmt.Errorf("handler: %w", base)
	if KindOf(wrapped) != NotFound {
		t.Fatal("kind must survive wrapping")
	}
	if !Is(wrapped, NotFound) {
		t.Fatal("Is must match through wrapping")
	}

	if KindOf(errors.New("boom")) != Unexpected {
		t.Fatal("foreign errors classify as Unexpected")
	}
}

func TestPublicMessage(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Wrap(Unexpected, "lookup failed", cause)
	if PublicMessage(err) != "internal error" {
		t.Fatalf("internal detail leaked: %q", PublicMessage(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must stay reachable for logs")
	}

	if got := PublicMessage(New(Forbidden, "access denied")); got != "access denied" {
		t.Fatalf("unexpected public message %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Unauthenticated, http.StatusUnauthorized},
		{Forbidden, http.StatusForbidden},
		{NotFound, http.StatusNotFound},
		{Invalid, http.StatusBadRequest},
		{Conflict, http.StatusConflict},
		{TooManyRequests, http.StatusTooManyRequests},
		{Unexpected, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(New(tc.kind, "x")); got != tc.want {
			t.Fatalf("kind %v: expected %d, got %d", tc.kind, tc.want, got)
		}
	}
	if HTTPStatus(errors.New("boom")) != http.StatusInternalServerError {
		t.Fatal("foreign errors map to 500")
	}
}
