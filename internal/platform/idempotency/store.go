package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is how long records are retained when the caller passes no TTL.
	DefaultTTL = 24 * time.Hour
	// StatusPending means a request reserved the key and is still running.
	StatusPending Status = "pending"
	// StatusCompleted means the response is stored and replayable.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of reserving a key.
type ReservationState int

const (
	// ReservationStateNew lets the caller run the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted carries a stored response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation is the result of Reserve.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the persisted state of one key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the HTTP response stored for replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// reserveDecision applies the shared reservation rules to an existing record, if any.
func reserveDecision(existing *Record, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if existing == nil || existing.expired(now) {
		record := Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		return Reservation{State: ReservationStateNew, Record: record}, true, nil
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, false, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: *existing}, false, nil
	}
	return Reservation{State: ReservationStatePending, Record: *existing}, false, nil
}

// completeRecord folds resp into record.
func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return record
}

// documentID hashes the scoped key; the fingerprint is checked against the stored value instead.
func documentID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade", "set-cookie":
		return true
	default:
		return false
	}
}
