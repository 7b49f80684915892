package ws

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sprintsync/internal/domain"
)

func TestCredentialFromRequestPrecedence(t *testing.T) {
	newReq := func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "/ws", nil)
	}

	// Explicit header beats everything.
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.Header.Set("X-Auth-Token", "from-header")
	r.Header.Set("Authorization", "Bearer from-bearer")
	r.AddCookie(&http.Cookie{Name: "jwt", Value: "from-cookie"})
	if got := credentialFromRequest(r); got != "from-header" {
		t.Errorf("expected header token, got %q", got)
	}

	// Then the bearer header.
	r = httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-bearer")
	r.AddCookie(&http.Cookie{Name: "jwt", Value: "from-cookie"})
	if got := credentialFromRequest(r); got != "from-bearer" {
		t.Errorf("expected bearer token, got %q", got)
	}

	// Then the cookie.
	r = httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	r.AddCookie(&http.Cookie{Name: "jwt", Value: "from-cookie"})
	if got := credentialFromRequest(r); got != "from-cookie" {
		t.Errorf("expected cookie token, got %q", got)
	}

	// Then the query parameter.
	r = httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if got := credentialFromRequest(r); got != "from-query" {
		t.Errorf("expected query token, got %q", got)
	}

	// Nothing at all.
	if got := credentialFromRequest(newReq()); got != "" {
		t.Errorf("expected empty credential, got %q", got)
	}

	// A non-bearer Authorization header is ignored.
	r = newReq()
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := credentialFromRequest(r); got != "" {
		t.Errorf("expected empty credential for basic auth, got %q", got)
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrInvalidArgument, "invalid_argument"},
		{fmt.Errorf("wrapped: %w", domain.ErrInvalidReference), "invalid_reference"},
		{domain.ErrNotFound, "not_found"},
		{domain.ErrAuthFailure, "auth_failure"},
		{domain.ErrIntegrity, "integrity_error"},
		{fmt.Errorf("boom"), "internal"},
		{nil, "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Errorf("errorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
