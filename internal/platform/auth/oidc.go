package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
	"github.com/spiritcandles/fulfillment/internal/platform/requestctx"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// MetricsRecorder records verification outcomes.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
)

// JWKSCache fetches and caches JSON Web Keys, honouring Cache-Control max-age.
type JWKSCache struct {
	url             string
	client          *http.Client
	logger          *zap.Logger
	now             func() time.Time
	refreshInterval time.Duration
	refreshTimeout  time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:             url,
		client:          &http.Client{Timeout: 10 * time.Second},
		logger:          zap.NewNop(),
		now:             time.Now,
		refreshInterval: defaultJWKSRefreshInterval,
		refreshTimeout:  defaultJWKSRefreshTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger used for refresh diagnostics.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Keyfunc returns a jwt.Keyfunc backed by the cache.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid. Expired caches and unknown kids trigger one refresh.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.refreshInterval
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}
	c.keys = keys
	c.expiry = c.now().Add(validity)
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("valid_for", validity))
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity captures details about the authenticated service principal.
type ServiceIdentity struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by the middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator validates Google-signed OIDC/IAP tokens presented by Cloud Scheduler and the checkout service.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// NewOIDCValidator constructs an OIDCValidator. metrics may be nil.
func NewOIDCValidator(cache *JWKSCache, logger *zap.Logger, metrics MetricsRecorder) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCValidator{cache: cache, logger: logger, metrics: metrics, now: time.Now}
}

// RequireOIDC enforces presence of a valid Google-signed token for audience from one of issuers.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			reject := func(status int, code, reason, message string) {
				v.record(ctx, false, reason, start)
				httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
			}

			if audience == "" {
				reject(http.StatusServiceUnavailable, "verification_unavailable", "audience_not_configured", "oidc audience not configured")
				return
			}
			tokenStr := extractOIDCToken(r)
			if tokenStr == "" {
				reject(http.StatusUnauthorized, "unauthenticated", "token_missing", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Warn("oidc jwks unavailable", zap.Error(err))
					reject(http.StatusServiceUnavailable, "invalid_token", "jwks_unavailable", "oidc token verification failed")
					return
				}
				reject(http.StatusUnauthorized, "invalid_token", "token_invalid", "oidc token verification failed")
				return
			}

			issuer, _ := claims["iss"].(string)
			if _, ok := allowedIssuers[issuer]; len(allowedIssuers) > 0 && !ok {
				reject(http.StatusUnauthorized, "invalid_token", "issuer_mismatch", "oidc issuer mismatch")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				reject(http.StatusUnauthorized, "invalid_token", "audience_mismatch", "oidc audience mismatch")
				return
			}

			identity := &ServiceIdentity{Issuer: issuer, Audience: audience}
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)

			v.record(ctx, true, "ok", start)
			ctx = WithServiceIdentity(ctx, identity)
			ctx = requestctx.WithActor(ctx, requestctx.Actor{ID: identity.Email, Kind: "service"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(start))
	}
}

func extractOIDCToken(r *http.Request) string {
	if bearer, ok := extractBearerToken(r.Header.Get("Authorization")); ok {
		return bearer
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
