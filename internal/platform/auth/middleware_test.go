package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireOperatorAllowsStaff(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]any{
				"role":  []any{"Staff", "staff"},
				"email": "ops@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier, "")

	called := false
	handler := authn.RequireOperator(RoleAdmin, RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "ops@example.com" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 1 || !identity.HasRole(RoleStaff) {
			t.Fatalf("expected deduplicated staff role, got %v", identity.Roles)
		}
		actor, ok := requestctx.ActorFrom(r.Context())
		if !ok || actor.ID != "uid-123" || actor.Kind != "operator" {
			t.Fatalf("unexpected actor %+v", actor)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusNoContent {
		t.Fatalf("expected handler to run, got status %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("unexpected token forwarded %q", verifier.received)
	}
}

func TestRequireOperatorRejectsMissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{}, "")
	rec := httptest.NewRecorder()
	authn.RequireOperator(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assertAuthError(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestRequireOperatorRejectsInvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")}, "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	authn.RequireOperator(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assertAuthError(t, rec, http.StatusUnauthorized, "invalid_token")
}

func TestRequireOperatorRejectsCustomerRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "customer",
		Claims: map[string]any{"role": map[string]any{"user": true, "admin": false}},
	}}
	authn := NewAuthenticator(verifier, "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer token")
	rec := httptest.NewRecorder()
	authn.RequireOperator(RoleAdmin, RoleStaff)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assertAuthError(t, rec, http.StatusForbidden, "insufficient_role")
}

func assertAuthError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d", status, rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error %s, got %v", code, payload["error"])
	}
}
