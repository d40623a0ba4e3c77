package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 5 * time.Minute
	maxSignedURLExpiry     = 15 * time.Minute
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errExpiryTooLong  = errors.New("storage: expiry exceeds permitted maximum")
	errMethodNotAllow = errors.New("storage: HTTP method not allowed")
)

// Client generates V4 signed download URLs backed by a Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DownloadOptions control the generated URL.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	ResponseType string
}

// SignedURLResult describes the generated signed URL.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// SignedDownloadURL signs a GET (or HEAD) URL for bucket/object.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = "GET"
	}
	if method != "GET" && method != "HEAD" {
		return SignedURLResult{}, errMethodNotAllow
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultSignedURLExpiry
	}
	if expiry > maxSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}
	expiresAt := c.now().Add(expiry)

	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	query := url.Values{}
	if opts.Disposition != "" {
		query.Set("response-content-disposition", opts.Disposition)
	}
	if opts.ResponseType != "" {
		query.Set("response-content-type", opts.ResponseType)
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = query
	}

	signed, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: signed, Method: method, ExpiresAt: expiresAt}, nil
}
