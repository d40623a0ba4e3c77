package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
}

// NewAuthenticator constructs an Authenticator reading roles from roleClaim (default "role").
func NewAuthenticator(verifier TokenVerifier, roleClaim string) *Authenticator {
	if strings.TrimSpace(roleClaim) == "" {
		roleClaim = defaultRoleClaim
	}
	return &Authenticator{verifier: verifier, roleClaim: roleClaim}
}

// RequireOperator verifies the bearer token and admits identities holding one of allowedRoles.
func (a *Authenticator) RequireOperator(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
			if err != nil {
				code, message := "invalid_token", "firebase id token invalid"
				switch {
				case firebaseauth.IsIDTokenExpired(err):
					code, message = "token_expired", "firebase id token expired"
				case firebaseauth.IsIDTokenRevoked(err):
					code, message = "token_revoked", "firebase id token revoked"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: claimAsString(token.Claims, "email"),
				Roles: rolesFromClaims(token.Claims, a.roleClaim),
				token: token,
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}

			ctx = WithIdentity(ctx, identity)
			ctx = requestctx.WithActor(ctx, requestctx.Actor{ID: identity.UID, Kind: "operator"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAllowedRole(roles []string, allowed map[string]struct{}) bool {
	for _, role := range roles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

// rolesFromClaims accepts a single role string, a list of roles or a {"role": true} map.
func rolesFromClaims(claims map[string]any, key string) []string {
	var candidates []string
	switch v := claims[key].(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				candidates = append(candidates, role)
			}
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
