package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/spiritcandles/fulfillment/internal/platform/secrets"
)

// ErrNotFound reports that neither Secret Manager nor the fallback file holds the reference.
var ErrNotFound = errors.New("secrets: secret not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager. Values are cached for the
// lifetime of the fetcher (or cacheTTL when set). When Secret Manager is unreachable or denies access
// the local fallback file is consulted, which keeps developer machines working without credentials.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	project     string
	versionPins map[string]string
	cacheTTL    time.Duration
	now         func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	project      string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	versionPins  map[string]string
	cacheTTL     time.Duration
	now          func() time.Time
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject configures the project used when a reference carries no ?project= override.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// WithVersionPins sets explicit version overrides keyed by canonical secret reference.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.versionPins = make(map[string]string, len(pins))
		for k, v := range pins {
			cfg.versionPins[k] = strings.TrimSpace(v)
		}
	}
}

// WithCacheTTL expires cached values after ttl. Zero keeps values until Close.
func WithCacheTTL(ttl time.Duration, now func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		cfg.cacheTTL = ttl
		if now != nil {
			cfg.now = now
		}
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client (no credentials) is not an error: the
// fetcher then serves the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	f := &Fetcher{
		logger:       cfg.logger,
		project:      cfg.project,
		versionPins:  cfg.versionPins,
		cacheTTL:     cfg.cacheTTL,
		now:          cfg.now,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cacheEntry),
	}

	var err error
	if f.latency, err = meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	); err != nil {
		cfg.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	if f.cacheHits, err = meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	); err != nil {
		cfg.logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	f.cache = make(map[string]cacheEntry)
	f.mu.Unlock()
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value for ref, consulting the cache, Secret Manager and the fallback file in order.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.selectVersion(parsed)
	key := cacheKey(parsed.Canonical, version)

	if value, ok := f.lookupCache(key); ok {
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(parsed.Canonical))))
		}
		f.recordLatency(ctx, start, "cache", nil)
		return value, nil
	}

	project := parsed.ProjectOverride
	if project == "" {
		project = f.project
	}

	if project != "" && f.client != nil {
		value, fetchErr := f.fetchRemote(ctx, project, parsed.Secret, version)
		if fetchErr == nil {
			f.storeCache(key, value)
			f.recordLatency(ctx, start, "remote", nil)
			return value, nil
		}
		if !isFallbackError(fetchErr) {
			f.recordLatency(ctx, start, "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("secret", maskReference(parsed.Canonical)), zap.Error(fetchErr))
	}

	value, ok := f.lookupFallback(parsed, version)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, parsed.Canonical)
		f.recordLatency(ctx, start, "error", err)
		return "", err
	}
	f.storeCache(key, value)
	f.recordLatency(ctx, start, "fallback", nil)
	return value, nil
}

func (f *Fetcher) lookupCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if f.cacheTTL > 0 && f.now().Sub(entry.fetchedAt) >= f.cacheTTL {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) storeCache(key, value string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{value: value, fetchedAt: f.now()}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) selectVersion(ref parsedReference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := f.versionPins[ref.Canonical]; pin != "" {
		return pin
	}
	return "latest"
}

func (f *Fetcher) lookupFallback(ref parsedReference, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback load error", zap.Error(f.fallbackErr))
		return "", false
	}
	if val, ok := f.fallbackVals[cacheKey(ref.Canonical, version)]; ok {
		return val, true
	}
	val, ok := f.fallbackVals[ref.Canonical]
	return val, ok
}

// loadFallback reads KEY=VALUE lines where KEY is a secret:// (or sm://) reference. Keys contain
// scheme separators, so the file is scanned line by line rather than parsed as dotenv.
func (f *Fetcher) loadFallback() {
	f.fallbackVals = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", f.fallbackPath, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		parsed, err := parseReference(key)
		if err != nil {
			f.fallbackVals[key] = value
			continue
		}
		version := parsed.Version
		if version == "" {
			version = "latest"
		}
		f.fallbackVals[parsed.Canonical] = value
		f.fallbackVals[cacheKey(parsed.Canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", f.fallbackPath, err)
	}
}

func (f *Fetcher) recordLatency(ctx context.Context, start time.Time, source string, err error) {
	if f.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

type parsedReference struct {
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

func parseReference(ref string) (parsedReference, error) {
	if strings.TrimSpace(ref) == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme == "sm" {
		u.Scheme = "secret"
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return parsedReference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	values := u.Query()
	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	return parsedReference{
		Canonical:       canonical.String(),
		Secret:          secret,
		Version:         strings.TrimSpace(values.Get("version")),
		ProjectOverride: strings.TrimSpace(values.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
