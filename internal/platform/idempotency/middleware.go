package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spiritcandles/fulfillment/internal/platform/auth"
	"github.com/spiritcandles/fulfillment/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	required   bool
	bodyLimit  int64
	clock      func() time.Time
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed records are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequired rejects guarded requests that carry no key. By default the key is optional.
func WithRequired() MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.required = true }
}

// WithBodyLimit caps the request body read for fingerprinting.
func WithBodyLimit(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.bodyLimit = limit
		}
	}
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response of a POST that reuses an Idempotency-Key. Keys are scoped
// to the caller. Server errors (5xx) are not stored so a retry re-executes the request.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		bodyLimit:  httpx.DefaultBodyLimit,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing idempotency key header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := httpx.ReadLimitedBody(r, cfg.bodyLimit)
			if err != nil {
				if errors.Is(err, httpx.ErrBodyTooLarge) {
					httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body too large", http.StatusRequestEntityTooLarge))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requester := extractRequester(ctx)
			fingerprint := requestFingerprint(r, body, requester)
			scoped := key + "|" + requester

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				cfg.handleStoreError(ctx, w, err)
				return
			}
			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.logf("idempotency: release key after server error: %v", err)
				}
			} else {
				resp := Response{Status: recorder.Status(), Headers: recorder.header.Clone(), Body: recorder.body.Bytes()}
				if err := store.SaveResponse(ctx, scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logf("idempotency: persist response: %v", err)
					if err := store.Release(ctx, scoped, fingerprint); err != nil {
						cfg.logf("idempotency: release key after save failure: %v", err)
					}
				}
			}
			recorder.flushTo(w)
		})
	}
}

func (cfg middlewareConfig) logf(format string, args ...any) {
	if cfg.logger != nil {
		cfg.logger.Printf(format, args...)
	}
}

func (cfg middlewareConfig) handleStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
		return
	}
	cfg.logf("idempotency: store error: %v", err)
	httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(r.URL.RawQuery)
	b.WriteString("|")
	b.WriteString(requester)
	b.WriteString("|")
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	return "anonymous"
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) flushTo(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.Status())
	if r.body.Len() > 0 {
		_, _ = w.Write(r.body.Bytes())
	}
}
