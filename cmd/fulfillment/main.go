package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/spiritcandles/fulfillment/internal/carrier"
	"github.com/spiritcandles/fulfillment/internal/changes"
	"github.com/spiritcandles/fulfillment/internal/di"
	"github.com/spiritcandles/fulfillment/internal/handlers"
	"github.com/spiritcandles/fulfillment/internal/notifications"
	"github.com/spiritcandles/fulfillment/internal/payments"
	"github.com/spiritcandles/fulfillment/internal/platform/auth"
	"github.com/spiritcandles/fulfillment/internal/platform/config"
	pfirestore "github.com/spiritcandles/fulfillment/internal/platform/firestore"
	"github.com/spiritcandles/fulfillment/internal/platform/idempotency"
	"github.com/spiritcandles/fulfillment/internal/platform/jobs"
	"github.com/spiritcandles/fulfillment/internal/platform/locks"
	"github.com/spiritcandles/fulfillment/internal/platform/metrics"
	"github.com/spiritcandles/fulfillment/internal/platform/observability"
	"github.com/spiritcandles/fulfillment/internal/platform/secrets"
	platformstorage "github.com/spiritcandles/fulfillment/internal/platform/storage"
	"github.com/spiritcandles/fulfillment/internal/repositories"
	firestoreRepo "github.com/spiritcandles/fulfillment/internal/repositories/firestore"
	"github.com/spiritcandles/fulfillment/internal/services"
)

const (
	firebaseVerifyTimeout = 5 * time.Second
	lockKeyPrefix         = "fulfillment:lock:"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("fulfillment")
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	promMetrics := metrics.New()

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	carrierClient, err := carrier.NewClient(ctx, carrier.Config{
		BaseURL:      cfg.Carrier.BaseURL,
		APIKey:       cfg.Carrier.APIKey,
		ClientID:     cfg.Carrier.ClientID,
		ClientSecret: cfg.Carrier.ClientSecret,
		TokenURL:     cfg.Carrier.TokenURL,
		Timeout:      cfg.Carrier.Timeout,
		MaxRetries:   cfg.Carrier.MaxRetries,
	},
		carrier.WithRecorder(promMetrics),
		carrier.WithLogger(logger.Named("carrier")),
	)
	if err != nil {
		logger.Fatal("failed to initialise carrier client", zap.Error(err))
	}

	locker, redisClient := buildLocker(logger, cfg)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	pubsubClient, err := newPubSubClient(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	notifier, notificationPublisher := buildNotifier(logger, cfg, pubsubClient, promMetrics)
	if notificationPublisher != nil {
		defer notificationPublisher.Close()
	}

	sinks, err := buildChangeSinks(logger, cfg, pubsubClient)
	if err != nil {
		logger.Fatal("failed to initialise change sinks", zap.Error(err))
	}

	infra := di.Infrastructure{
		Carrier:  carrierClient,
		Locker:   locker,
		Notifier: notifier,
		Sinks:    sinks,
		Recorder: promMetrics,
		Logger:   logger,
		Build:    buildInfo,
		Clock:    time.Now,
	}

	var storageClient *cloudstorage.Client
	if bucket := strings.TrimSpace(cfg.Storage.LabelsBucket); bucket != "" {
		storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		archive, err := buildLabelArchive(logger, cfg, storageClient, carrierClient)
		if err != nil {
			logger.Fatal("failed to initialise label archive", zap.Error(err))
		}
		infra.Labels = archive
	} else {
		logger.Warn("storage: labels bucket not configured; carrier label URLs are kept as-is")
	}
	if storageClient != nil {
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup
	runBackground := func(name string, fn func(context.Context)) {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			logger.Info("background worker started", zap.String("worker", name))
			fn(backgroundCtx)
		}()
	}

	hub := container.Changes
	runBackground("changes.hub", hub.Run)
	runBackground("idempotency.janitor", func(ctx context.Context) {
		idempotency.RunJanitor(ctx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	})
	if cfg.Changes.WatchFirestore {
		watcher, err := changes.NewWatcher(firestoreProvider, hub, logger.Named("changes"))
		if err != nil {
			logger.Fatal("failed to initialise order watcher", zap.Error(err))
		}
		runBackground("changes.watcher", func(ctx context.Context) {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("order watcher stopped", zap.Error(err))
			}
		})
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, "")

	svc := container.Services
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Fulfillment,
		handlers.WithAdminRoles(cfg.Security.AdminRoles...),
		handlers.WithAdminTrash(svc.Trash),
		handlers.WithAdminBulk(svc.Bulk),
		handlers.WithAdminStats(svc.Stats),
		handlers.WithAdminChangeFeed(hub),
		handlers.WithAdminMutationMiddlewares(idempotencyMiddleware),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		promMetrics.Middleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithMetricsHandler(promMetrics.Handler()))
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Fulfillment, cfg.Fulfillment.TrackingSyncBatch).Routes))
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, promMetrics); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}
	if stripeWebhook := buildStripeWebhook(logger.Named("payments"), cfg); stripeWebhook != nil {
		opts = append(opts, handlers.WithWebhookRoutes(handlers.NewPaymentWebhookHandlers(stripeWebhook, svc.Fulfillment).Routes))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fulfillment api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	// The hub drains queued sink writes once its context ends, so stop it after the server.
	backgroundCancel()
	backgroundWG.Wait()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildLocker(logger *zap.Logger, cfg config.Config) (locks.Locker, *redis.Client) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		logger.Warn("locks: redis not configured; shipment locks are process-local")
		return locks.NewMemoryLocker(time.Now), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locker, err := locks.NewRedisLocker(client, lockKeyPrefix)
	if err != nil {
		logger.Fatal("failed to initialise redis locker", zap.Error(err))
	}
	return locker, client
}

func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, rdb *redis.Client) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			return provider.Ping(ctx, "orders")
		},
	}}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newPubSubClient(ctx context.Context, cfg config.Config) (*pubsub.Client, error) {
	if strings.TrimSpace(cfg.Notifications.Topic) == "" && strings.TrimSpace(cfg.Changes.PubSubTopic) == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	return pubsub.NewClient(ctx, cfg.Firestore.ProjectID, opts...)
}

func buildNotifier(logger *zap.Logger, cfg config.Config, client *pubsub.Client, recorder notifications.Recorder) (*notifications.Dispatcher, *jobs.PubSubPublisher) {
	deps := notifications.Deps{
		Recorder:      recorder,
		Logger:        logger.Named("notifications"),
		DefaultLocale: cfg.Notifications.DefaultLocale,
	}
	topic := strings.TrimSpace(cfg.Notifications.Topic)
	if client == nil || topic == "" {
		logger.Warn("notifications: topic not configured; customer emails are disabled")
		return notifications.NewDispatcher(deps), nil
	}
	publisher, err := jobs.NewPubSubPublisher(client.Topic(topic))
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}
	deps.Publisher = publisher
	return notifications.NewDispatcher(deps), publisher
}

func buildChangeSinks(logger *zap.Logger, cfg config.Config, client *pubsub.Client) ([]changes.Sink, error) {
	var sinks []changes.Sink
	if topic := strings.TrimSpace(cfg.Changes.PubSubTopic); topic != "" && client != nil {
		publisher, err := jobs.NewPubSubPublisher(client.Topic(topic))
		if err != nil {
			return nil, err
		}
		sink, err := changes.NewPubSubSink(publisher, publisher.Close)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if len(cfg.Changes.KafkaBrokers) > 0 {
		writer, err := changes.NewKafkaWriter(cfg.Changes.KafkaBrokers, cfg.Changes.KafkaTopic, logger.Named("kafka"))
		if err != nil {
			return nil, err
		}
		sink, err := changes.NewKafkaSink(writer, cfg.Changes.KafkaTopic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

func buildLabelArchive(logger *zap.Logger, cfg config.Config, client *cloudstorage.Client, source platformstorage.LabelSource) (*platformstorage.LabelArchive, error) {
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		return nil, err
	}
	var urls *platformstorage.Client
	if keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile); keyFile != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("parse storage signer key: %w", err)
		}
		urls, err = platformstorage.NewClient(signer)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("storage: signer key not configured; label downloads are unavailable")
	}
	return platformstorage.NewLabelArchive(cfg.Storage.LabelsBucket, writer, source, urls, cfg.Storage.LabelURLTTL)
}

func buildStripeWebhook(logger *zap.Logger, cfg config.Config) *payments.StripeWebhook {
	if strings.TrimSpace(cfg.PSP.StripeWebhookSecret) == "" {
		logger.Warn("payments: stripe webhook secret not configured; payment webhooks are disabled")
		return nil
	}
	hook, err := payments.NewStripeWebhook(payments.StripeWebhookConfig{
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		APIKey:        cfg.PSP.StripeAPIKey,
		Logger:        payments.StripeLogger(observability.NewEventLogger(logger)),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook", zap.Error(err))
	}
	return hook
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, logger, recorder)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/spiritcandles/fulfillment/secrets")),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve to a value outside local development.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" {
		return nil
	}
	required := []string{"PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["API_CARRIER_CLIENT_ID"]) != "" {
		required = append(required, "Carrier.ClientSecret")
	} else {
		required = append(required, "Carrier.APIKey")
	}
	if strings.TrimSpace(env["API_REDIS_ADDR"]) != "" && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

// secretVersionPinsFromEnv parses API_SECRET_VERSION_PINS ("ref=version,...") into normalised
// secret:// references.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := strings.TrimSpace(env["API_SECRET_VERSION_PINS"])
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	for _, entry := range strings.Split(raw, ",") {
		ref, version, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		ref = strings.TrimSpace(ref)
		version = strings.TrimSpace(version)
		if ref == "" || version == "" {
			continue
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[ref] = version
	}
	return pins
}
