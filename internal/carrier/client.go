// Package carrier talks to the shipping aggregator's REST API.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/spiritcandles/fulfillment/internal/platform/observability"
)

const (
	defaultTimeout     = 20 * time.Second
	defaultMaxRetries  = 3
	defaultBackoffBase = 250 * time.Millisecond
	maxResponseBytes   = 1 << 20
	maxLabelBytes      = 10 << 20
)

// Config carries connection settings for the aggregator.
type Config struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
	MaxRetries   int
}

// Recorder observes call outcomes.
type Recorder interface {
	ObserveCarrierCall(operation, outcome string, elapsed time.Duration)
}

// Option customises the client.
type Option func(*Client)

// WithTransport replaces the base round tripper, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.baseTransport = rt
		}
	}
}

// WithRecorder reports call outcomes to rec.
func WithRecorder(rec Recorder) Option {
	return func(c *Client) { c.recorder = rec }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff overrides the base delay between retries.
func WithBackoff(base time.Duration) Option {
	return func(c *Client) {
		if base >= 0 {
			c.backoff = base
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	plain         *http.Client
	baseTransport http.RoundTripper
	recorder      Recorder
	logger        *zap.Logger
	maxRetries    int
	backoff       time.Duration
}

// NewClient builds an authenticated client. OAuth2 client credentials are used when ClientID is
// set, otherwise APIKey is sent as a static bearer token.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("carrier: invalid base url %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:       base,
		baseTransport: http.DefaultTransport,
		logger:        zap.NewNop(),
		maxRetries:    cfg.MaxRetries,
		backoff:       defaultBackoffBase,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	traced := otelhttp.NewTransport(c.baseTransport)
	c.plain = &http.Client{Transport: traced, Timeout: timeout}

	clientID := strings.TrimSpace(cfg.ClientID)
	switch {
	case clientID != "":
		tokenURL := strings.TrimSpace(cfg.TokenURL)
		if tokenURL == "" {
			tokenURL = base.JoinPath("oauth", "token").String()
		}
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The token source outlives ctx, so it only borrows the HTTP client from it.
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, c.plain)
		c.http = &http.Client{
			Transport: &oauth2.Transport{Source: cc.TokenSource(tokenCtx), Base: traced},
			Timeout:   timeout,
		}
	case strings.TrimSpace(cfg.APIKey) != "":
		c.http = &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.APIKey), TokenType: "Bearer"}),
				Base:   traced,
			},
			Timeout: timeout,
		}
	default:
		return nil, errors.New("carrier: api key or client credentials are required")
	}
	return c, nil
}

// Quote returns the services available for the parcel. Quotes have no side effects, so failures
// are retried like reads.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (rates []Rate, err error) {
	ctx, finish := c.begin(ctx, "quote")
	defer func() { finish(err) }()

	body := quotePayload{Receiver: encodeAddress(req.Receiver), Parcels: []parcelPayload{encodeParcel(req.Parcel)}}
	var resp quoteResponse
	if err = c.doWithRetry(ctx, http.MethodPost, "packages/calculate-price", body, &resp); err != nil {
		return nil, err
	}
	rates = make([]Rate, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		rates = append(rates, Rate{
			ServiceID:    strings.TrimSpace(r.ServiceID),
			CarrierID:    strings.TrimSpace(r.CarrierID),
			CarrierName:  strings.TrimSpace(r.CarrierName),
			Price:        r.Price,
			Currency:     strings.ToUpper(strings.TrimSpace(r.Currency)),
			DeliveryDays: r.DeliveryDays,
		})
	}
	return rates, nil
}

// CreateShipment registers a parcel with the aggregator. It is never retried: a lost response
// could otherwise produce a second paid shipment.
func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (result ShipmentResult, err error) {
	ctx, finish := c.begin(ctx, "create_shipment", attribute.String("carrier.reference", req.Reference))
	defer func() { finish(err) }()

	serviceID := strings.TrimSpace(req.ServiceID)
	if serviceID == "" {
		return ShipmentResult{}, errors.New("carrier: service id is required")
	}
	body := shipmentPayload{
		Reference: strings.TrimSpace(req.Reference),
		ServiceID: serviceID,
		Receiver:  encodeAddress(req.Receiver),
		Parcels:   []parcelPayload{encodeParcel(req.Parcel)},
		Contents:  strings.TrimSpace(req.Contents),
	}
	var resp shipmentResponse
	if err = c.do(ctx, http.MethodPost, "packages", body, &resp); err != nil {
		return ShipmentResult{}, err
	}
	if strings.TrimSpace(resp.PackageID) == "" {
		return ShipmentResult{}, fmt.Errorf("%w: response without package id", ErrUnavailable)
	}
	return ShipmentResult{
		ExternalID:  strings.TrimSpace(resp.PackageID),
		CarrierID:   strings.TrimSpace(resp.CarrierID),
		CarrierName: strings.TrimSpace(resp.CarrierName),
		LabelURL:    strings.TrimSpace(resp.LabelURL),
	}, nil
}

// GetTracking reads the current state of a shipment.
func (c *Client) GetTracking(ctx context.Context, externalID string) (tracking Tracking, err error) {
	ctx, finish := c.begin(ctx, "get_tracking", attribute.String("carrier.package_id", externalID))
	defer func() { finish(err) }()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Tracking{}, errors.New("carrier: external shipment id is required")
	}
	var resp trackingResponse
	if err = c.doWithRetry(ctx, http.MethodGet, "packages/"+url.PathEscape(externalID), nil, &resp); err != nil {
		return Tracking{}, err
	}
	tracking = resp.toTracking()
	if tracking.ExternalID == "" {
		tracking.ExternalID = externalID
	}
	return tracking, nil
}

// DownloadLabel fetches a label document. Credentials are only attached when the label lives on
// the aggregator's own host.
func (c *Client) DownloadLabel(ctx context.Context, labelURL string) (body io.ReadCloser, contentType string, err error) {
	ctx, finish := c.begin(ctx, "download_label")
	defer func() { finish(err) }()

	target, err := url.Parse(strings.TrimSpace(labelURL))
	if err != nil || strings.TrimSpace(labelURL) == "" {
		return nil, "", fmt.Errorf("carrier: invalid label url %q", labelURL)
	}
	if !target.IsAbs() {
		target = c.baseURL.ResolveReference(target)
	}
	client := c.plain
	if strings.EqualFold(target.Host, c.baseURL.Host) {
		client = c.http
	}

	var payload []byte
	for attempt := 0; ; attempt++ {
		payload, contentType, err = c.fetch(ctx, client, target.String())
		if err == nil || !errors.Is(err, ErrUnavailable) || attempt+1 >= c.maxRetries {
			break
		}
		if waitErr := c.wait(ctx, attempt); waitErr != nil {
			return nil, "", waitErr
		}
	}
	if err != nil {
		return nil, "", err
	}
	return io.NopCloser(bytes.NewReader(payload)), contentType, nil
}

func (c *Client) fetch(ctx context.Context, client *http.Client, target string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(resp, nil)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxLabelBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read label: %v", ErrUnavailable, err)
	}
	return payload, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, in, out any) error {
	var err error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if waitErr := c.wait(ctx, attempt-1); waitErr != nil {
				return waitErr
			}
		}
		err = c.do(ctx, method, path, in, out)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		c.logger.Debug("carrier call retry",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.backoff << attempt
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("carrier: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: token endpoint returned %d", ErrUnauthorized, retrieveErr.Response.StatusCode)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func statusError(resp *http.Response, payload []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		var body errorResponse
		if err := json.Unmarshal(payload, &body); err == nil && len(body.Errors) > 0 {
			return newValidationError(body.Errors)
		}
		return newValidationError([]Violation{{Message: fmt.Sprintf("request rejected with status %d", resp.StatusCode)}})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("carrier: unexpected status %d", resp.StatusCode)
	}
}

// begin opens a span and returns a finisher that records the outcome.
func (c *Client) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "carrier."+operation, attrs...)
	return ctx, func(err error) {
		observability.EndSpan(span, err)
		if c.recorder != nil {
			c.recorder.ObserveCarrierCall(operation, Outcome(err), time.Since(start))
		}
	}
}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	var validation *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "rejected"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
