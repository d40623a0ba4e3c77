package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCarrierTimeout       = 20 * time.Second
	defaultCarrierRetries       = 3
	defaultCarrierServiceID     = "standard"
	defaultItemWeightKg         = "0.5"
	defaultMinParcelWeightKg    = "1"
	defaultParcelLengthCm       = 30
	defaultParcelWidthCm        = 20
	defaultParcelHeightCm       = 15
	defaultShipmentLockTTL      = 60 * time.Second
	defaultBulkLimit            = 500
	defaultTrackingSyncBatch    = 100
	defaultOrderNumberPrefix    = "SC"
	defaultNotificationLocale   = "pl"
	defaultChangeBuffer         = 64
	defaultChangeSinkBacklog    = 10000
	defaultChangeRetryInitial   = 250 * time.Millisecond
	defaultChangeRetryMax       = 30 * time.Second
	defaultLabelURLTTL          = 15 * time.Minute
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

var defaultAdminRoles = []string{"admin", "staff"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Carrier       CarrierConfig
	Fulfillment   FulfillmentConfig
	Notifications NotificationConfig
	Changes       ChangeFeedConfig
	Redis         RedisConfig
	Storage       StorageConfig
	PSP           PSPConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// CarrierConfig points at the shipping aggregator.
// ClientID switches authentication from the static API key to OAuth2 client credentials.
type CarrierConfig struct {
	BaseURL          string
	APIKey           string
	ClientID         string
	ClientSecret     string
	TokenURL         string
	DefaultServiceID string
	Timeout          time.Duration
	MaxRetries       int
}

// FulfillmentConfig holds parcel defaults and operational limits.
type FulfillmentConfig struct {
	DefaultItemWeightKg decimal.Decimal
	MinParcelWeightKg   decimal.Decimal
	ParcelLengthCm      int
	ParcelWidthCm       int
	ParcelHeightCm      int
	ShipmentLockTTL     time.Duration
	BulkLimit           int
	TrackingSyncBatch   int
	OrderNumberPrefix   string
}

// NotificationConfig routes customer emails through the mail worker topic.
type NotificationConfig struct {
	Topic         string
	DefaultLocale string
}

// ChangeFeedConfig controls the admin change feed and its fan-out sinks.
type ChangeFeedConfig struct {
	PubSubTopic      string
	KafkaBrokers     []string
	KafkaTopic       string
	WatchFirestore   bool
	SubscriberBuffer int
	SinkBacklog      int
	RetryInitial     time.Duration
	RetryMax         time.Duration
}

// RedisConfig configures the shipment lock backend. An empty Addr selects the in-process locker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	LabelsBucket  string
	LabelURLTTL   time.Duration
	// SignerKeyFile is a service account JSON key used to sign label download URLs.
	SignerKeyFile string
}

// PSPConfig collects secrets for the payment provider webhook.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	AdminRoles  []string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to an empty value.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeWebhookSecret") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can
// build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

// Load assembles the application configuration from defaults, .env overrides, the environment
// and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(append([]Option{
		WithSecretResolver(SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		})),
	}, opts...))

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	var invalid []string
	decimalField := func(name, key, fallback string) decimal.Decimal {
		value, err := decimalWithDefault(lookup, key, fallback)
		if err != nil {
			invalid = append(invalid, name)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Carrier: CarrierConfig{
			BaseURL:          strings.TrimRight(stringWithDefault(lookup, "API_CARRIER_BASE_URL", ""), "/"),
			APIKey:           stringWithDefault(lookup, "API_CARRIER_API_KEY", ""),
			ClientID:         stringWithDefault(lookup, "API_CARRIER_CLIENT_ID", ""),
			ClientSecret:     stringWithDefault(lookup, "API_CARRIER_CLIENT_SECRET", ""),
			TokenURL:         stringWithDefault(lookup, "API_CARRIER_TOKEN_URL", ""),
			DefaultServiceID: stringWithDefault(lookup, "API_CARRIER_DEFAULT_SERVICE_ID", defaultCarrierServiceID),
			Timeout:          durationWithDefault(lookup, "API_CARRIER_TIMEOUT", defaultCarrierTimeout),
			MaxRetries:       intWithDefault(lookup, "API_CARRIER_MAX_RETRIES", defaultCarrierRetries),
		},
		Fulfillment: FulfillmentConfig{
			DefaultItemWeightKg: decimalField("Fulfillment.DefaultItemWeightKg", "API_FULFILLMENT_DEFAULT_ITEM_WEIGHT_KG", defaultItemWeightKg),
			MinParcelWeightKg:   decimalField("Fulfillment.MinParcelWeightKg", "API_FULFILLMENT_MIN_PARCEL_WEIGHT_KG", defaultMinParcelWeightKg),
			ParcelLengthCm:      intWithDefault(lookup, "API_FULFILLMENT_PARCEL_LENGTH_CM", defaultParcelLengthCm),
			ParcelWidthCm:       intWithDefault(lookup, "API_FULFILLMENT_PARCEL_WIDTH_CM", defaultParcelWidthCm),
			ParcelHeightCm:      intWithDefault(lookup, "API_FULFILLMENT_PARCEL_HEIGHT_CM", defaultParcelHeightCm),
			ShipmentLockTTL:     durationWithDefault(lookup, "API_FULFILLMENT_SHIPMENT_LOCK_TTL", defaultShipmentLockTTL),
			BulkLimit:           intWithDefault(lookup, "API_FULFILLMENT_BULK_LIMIT", defaultBulkLimit),
			TrackingSyncBatch:   intWithDefault(lookup, "API_FULFILLMENT_TRACKING_SYNC_BATCH", defaultTrackingSyncBatch),
			OrderNumberPrefix:   stringWithDefault(lookup, "API_FULFILLMENT_ORDER_NUMBER_PREFIX", defaultOrderNumberPrefix),
		},
		Notifications: NotificationConfig{
			Topic:         stringWithDefault(lookup, "API_NOTIFICATIONS_TOPIC", ""),
			DefaultLocale: stringWithDefault(lookup, "API_NOTIFICATIONS_DEFAULT_LOCALE", defaultNotificationLocale),
		},
		Changes: ChangeFeedConfig{
			PubSubTopic:      stringWithDefault(lookup, "API_CHANGES_PUBSUB_TOPIC", ""),
			KafkaBrokers:     csvWithDefault(lookup, "API_CHANGES_KAFKA_BROKERS"),
			KafkaTopic:       stringWithDefault(lookup, "API_CHANGES_KAFKA_TOPIC", ""),
			WatchFirestore:   boolWithDefault(lookup, "API_CHANGES_WATCH_FIRESTORE", false),
			SubscriberBuffer: intWithDefault(lookup, "API_CHANGES_SUBSCRIBER_BUFFER", defaultChangeBuffer),
			SinkBacklog:      intWithDefault(lookup, "API_CHANGES_SINK_BACKLOG", defaultChangeSinkBacklog),
			RetryInitial:     durationWithDefault(lookup, "API_CHANGES_RETRY_INITIAL", defaultChangeRetryInitial),
			RetryMax:         durationWithDefault(lookup, "API_CHANGES_RETRY_MAX", defaultChangeRetryMax),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Storage: StorageConfig{
			LabelsBucket:  stringWithDefault(lookup, "API_STORAGE_LABELS_BUCKET", ""),
			LabelURLTTL:   durationWithDefault(lookup, "API_STORAGE_LABEL_URL_TTL", defaultLabelURLTTL),
			SignerKeyFile: stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY_FILE", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			AdminRoles:  csvWithDefault(lookup, "API_SECURITY_ADMIN_ROLES"),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.AdminRoles) == 0 {
		cfg.Security.AdminRoles = append([]string(nil), defaultAdminRoles...)
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Carrier.APIKey", &cfg.Carrier.APIKey},
		{"Carrier.ClientSecret", &cfg.Carrier.ClientSecret},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		var secretErr *SecretError
		if errors.As(err, &secretErr) {
			return "", secretErr
		}
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)
	require := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Carrier.BaseURL != "", "Carrier.BaseURL")
	require(cfg.Carrier.ClientID == "" || cfg.Carrier.TokenURL != "", "Carrier.TokenURL")
	require(cfg.Carrier.MaxRetries >= 0, "Carrier.MaxRetries")
	require(cfg.Fulfillment.DefaultItemWeightKg.IsPositive(), "Fulfillment.DefaultItemWeightKg")
	require(cfg.Fulfillment.MinParcelWeightKg.IsPositive(), "Fulfillment.MinParcelWeightKg")
	require(cfg.Fulfillment.ParcelLengthCm > 0 && cfg.Fulfillment.ParcelWidthCm > 0 && cfg.Fulfillment.ParcelHeightCm > 0, "Fulfillment.Parcel")
	// The lease has to outlive one carrier call with room left to persist the shipment id.
	require(cfg.Fulfillment.ShipmentLockTTL >= 2*cfg.Carrier.Timeout, "Fulfillment.ShipmentLockTTL")
	require(cfg.Fulfillment.BulkLimit > 0, "Fulfillment.BulkLimit")
	require(cfg.Fulfillment.TrackingSyncBatch > 0, "Fulfillment.TrackingSyncBatch")
	require(strings.TrimSpace(cfg.Fulfillment.OrderNumberPrefix) != "", "Fulfillment.OrderNumberPrefix")
	require(len(cfg.Changes.KafkaBrokers) == 0 || cfg.Changes.KafkaTopic != "", "Changes.KafkaTopic")
	require(cfg.Changes.SubscriberBuffer > 0, "Changes.SubscriberBuffer")
	require(cfg.Changes.SinkBacklog > 0, "Changes.SinkBacklog")
	require(cfg.Changes.RetryInitial > 0 && cfg.Changes.RetryMax >= cfg.Changes.RetryInitial, "Changes.RetryMax")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func decimalWithDefault(lookup lookupFunc, key, fallback string) (decimal.Decimal, error) {
	raw := fallback
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		raw = strings.TrimSpace(value)
	}
	return decimal.NewFromString(raw)
}

func boolWithDefault(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup lookupFunc, key string) []string {
	raw, _ := lookup(key)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "name=value,name2=value2"; names are lower-cased.
func mapWithDefault(lookup lookupFunc, key string) map[string]string {
	values := make(map[string]string)
	raw, _ := lookup(key)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
