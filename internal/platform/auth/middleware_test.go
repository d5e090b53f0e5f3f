package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/bonaevents/storefront/internal/platform/requestctx"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestGate(t *testing.T, password string, clock *fakeClock) *AdminGate {
	t.Helper()
	gate, err := NewAdminGate(password, "signing-secret", WithClock(clock.Now), WithSessionTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	return gate
}

func TestNewAdminGateRequiresSecret(t *testing.T) {
	if _, err := NewAdminGate("pw", "  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, "letmein", clock)

	session, err := gate.Login("letmein")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Token == "" {
		t.Fatalf("expected token")
	}
	if want := clock.now.Add(time.Hour); !session.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, session.ExpiresAt)
	}

	subject, err := gate.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	gate := newTestGate(t, "letmein", &fakeClock{now: time.Now()})
	if _, err := gate.Login("letmein "); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := gate.Login(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty password, got %v", err)
	}
}

func TestLoginWithoutConfiguredPassword(t *testing.T) {
	gate := newTestGate(t, "", &fakeClock{now: time.Now()})
	if _, err := gate.Login(""); !errors.Is(err, ErrAdminUnconfigured) {
		t.Fatalf("expected ErrAdminUnconfigured, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, "letmein", clock)
	session, err := gate.Login("letmein")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	clock.now = clock.now.Add(time.Hour)
	if _, err := gate.Verify(session.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	gate := newTestGate(t, "letmein", clock)

	other, err := NewAdminGate("letmein", "another-secret", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewAdminGate: %v", err)
	}
	session, err := other.Login("letmein")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := gate.Verify(session.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	gate := newTestGate(t, "letmein", clock)

	claims := jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := gate.Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRequireAdminAllowsValidToken(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	gate := newTestGate(t, "letmein", clock)
	session, err := gate.Login("letmein")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	called := false
	handler := gate.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		subject, ok := requestctx.AdminSubject(r.Context())
		if !ok || subject != "admin" {
			t.Fatalf("expected admin subject in context, got %q", subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "bearer "+session.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestRequireAdminRejectsRequests(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, "letmein", clock)
	session, err := gate.Login("letmein")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	cases := []struct {
		name    string
		header  string
		advance time.Duration
		code    string
	}{
		{name: "missing header", header: "", code: "unauthenticated"},
		{name: "wrong scheme", header: "Basic " + session.Token, code: "unauthenticated"},
		{name: "garbage token", header: "Bearer not-a-token", code: "invalid_token"},
		{name: "expired token", header: "Bearer " + session.Token, advance: 2 * time.Hour, code: "token_expired"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock.now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC).Add(tc.advance)
			handler := gate.RequireAdmin()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				t.Fatalf("expected json response")
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected error %q, got %v", tc.code, body["error"])
			}
		})
	}
}
