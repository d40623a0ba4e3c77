package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spiritcandles/fulfillment/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func newPost(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/orders/ord_1:create-shipment", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddleware_MissingHeaderPassesThrough(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))

	calls := 0
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newPost(`{}`, ""))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for every keyless request, got %d", calls)
	}
}

func TestMiddleware_MissingHeaderRejectedWhenRequired(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithRequired())
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost(`{}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	var calls int
	var seenBody string
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		data, _ := io.ReadAll(r.Body)
		seenBody = string(data)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"external_shipment_id":"pkg-1"}`))
	}))

	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: "op-1", Roles: []string{auth.RoleStaff}})

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newPost(`{"weight_kg":"2"}`, "abc-123").WithContext(ctx))
	if rr1.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", rr1.Code)
	}
	if seenBody != `{"weight_kg":"2"}` {
		t.Fatalf("handler should see the original body, got %q", seenBody)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newPost(`{"weight_kg":"2"}`, "abc-123").WithContext(ctx))
	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	if rr2.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", rr2.Code)
	}
	if rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if body := rr2.Body.String(); body != rr1.Body.String() {
		t.Fatalf("expected response body %s, got %s", rr1.Body.String(), body)
	}
}

func TestMiddleware_KeysAreScopedPerOperator(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for _, uid := range []string{"op-1", "op-2"} {
		ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: uid})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, newPost(`{}`, "shared").WithContext(ctx))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", uid, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected one execution per operator, got %d", calls)
	}
}

func TestMiddleware_ConflictingFingerprintRejected(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newPost(`{"foo":"bar"}`, "same-key"))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newPost(`{"foo":"baz"}`, "same-key"))
	if rr2.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := newPost(`{"foo":"bar"}`, "pending-key")
	fingerprint := requestFingerprint(req, []byte(`{"foo":"bar"}`), "anonymous")
	if _, err := store.Reserve(req.Context(), "pending-key|anonymous", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreNotStored(t *testing.T) {
	store := NewMemoryStore()
	status := http.StatusBadGateway
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost(`{}`, "retry-key"))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}

	status = http.StatusCreated
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost(`{}`, "retry-key"))
	if rr.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to execute, got status %d after %d calls", rr.Code, calls)
	}
}

func TestMiddleware_SaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost(`{}`, "fail-key"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected the handler response, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMiddleware_StoreErrorReturnsUnavailable(t *testing.T) {
	store := &stubStore{reserveErr: errors.New("firestore down")}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newPost(`{}`, "k"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "a", "f", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "b", "f", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	res, err := store.Reserve(ctx, "a", "other", fixedTime.Add(10*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %v %v", res.State, err)
	}
}

type stubStore struct {
	failSave   bool
	reserveErr error
	released   bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.reserveErr != nil {
		return Reservation{}, s.reserveErr
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
