package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/pubsub"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bonaevents/storefront/internal/di"
	"github.com/bonaevents/storefront/internal/handlers"
	"github.com/bonaevents/storefront/internal/payments"
	"github.com/bonaevents/storefront/internal/platform/auth"
	"github.com/bonaevents/storefront/internal/platform/config"
	pfirestore "github.com/bonaevents/storefront/internal/platform/firestore"
	"github.com/bonaevents/storefront/internal/platform/idempotency"
	"github.com/bonaevents/storefront/internal/platform/jobs"
	"github.com/bonaevents/storefront/internal/platform/localstore"
	"github.com/bonaevents/storefront/internal/platform/observability"
	"github.com/bonaevents/storefront/internal/platform/secrets"
	"github.com/bonaevents/storefront/internal/repositories"
	firestoreRepo "github.com/bonaevents/storefront/internal/repositories/firestore"
)

const confirmationTimeZone = "Europe/Rome"

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

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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

	loadOpts := []config.Option{config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve))}
	if !isLocalEnvironment(envValues) {
		loadOpts = append(loadOpts, config.WithRequiredSecrets("Admin.Password", "Admin.TokenSecret"))
	}
	cfg, err := config.Load(ctx, loadOpts...)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if missing := cfg.MissingPaymentSecrets(); len(missing) > 0 {
		logger.Warn("payment secrets not configured; affected routes will answer 500", zap.Strings("secrets", missing))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	referralRepo, err := firestoreRepo.NewReferralRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise referral repository", zap.Error(err))
	}

	backends := di.Backends{
		Orders:    orderRepo,
		Referrals: referralRepo,
		Webhooks:  payments.NewWebhookVerifier(cfg.PSP.StripeWebhookSecret),
		Metrics:   metrics,
		Logger:    logger,
		Location:  loadLocation(logger, confirmationTimeZone),
		Closers: []func(context.Context) error{
			firestoreProvider.Close,
		},
	}

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		stripeLogger := observability.EventLogger(logger.Named("stripe"))
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{APIKey: key, Logger: stripeLogger})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		confirmer, err := payments.NewStripeCardConfirmer(payments.StripeCardConfirmerConfig{APIKey: key, Logger: stripeLogger})
		if err != nil {
			logger.Fatal("failed to initialise stripe card confirmer", zap.Error(err))
		}
		backends.Gateway = gateway
		backends.Confirmer = confirmer
	}

	sessionStore, closeSessions, err := newSessionStore(logger, cfg.Sessions, cfg.IsLocal())
	if err != nil {
		logger.Fatal("failed to initialise session store", zap.Error(err))
	}
	backends.Sessions = sessionStore
	backends.Closers = append(backends.Closers, closeSessions)

	publisher, closePublisher, err := newConfirmationPublisher(ctx, logger, cfg.Notifications)
	if err != nil {
		logger.Warn("confirmation publisher unavailable; purchases will not be announced", zap.Error(err))
	} else if publisher != nil {
		backends.Publisher = publisher
		backends.Closers = append(backends.Closers, closePublisher)
	}

	container, err := di.NewContainer(cfg, backends)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("backend close error", zap.Error(err))
		}
	}()

	gate, err := newAdminGate(logger.Named("auth"), cfg.Admin)
	if err != nil {
		logger.Fatal("failed to initialise admin gate", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, sessionStore)
	if err != nil {
		logger.Warn("health: readiness checks unavailable", zap.Error(err))
	}

	replayStore, err := idempotency.NewRedisStore(sessionStore.Client())
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	replayLogger := zap.NewStdLog(logger.Named("idempotency"))
	checkoutReplay := idempotency.Middleware(replayStore,
		idempotency.WithTTL(cfg.Checkout.IdempotencyTTL),
		idempotency.WithScope(handlers.CheckoutReplayScope),
		idempotency.WithLogger(replayLogger),
	)
	paymentReplay := idempotency.Middleware(replayStore,
		idempotency.WithTTL(cfg.Checkout.IdempotencyTTL),
		idempotency.WithLogger(replayLogger),
	)

	svc := container.Services
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments, handlers.WithPaymentReplay(paymentReplay))
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
	cartHandlers := handlers.NewCartHandlers(svc.Carts,
		handlers.WithCartReferrals(svc.Referrals),
		handlers.WithCartDeposit(cfg.Checkout.Deposit),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Carts, svc.Checkout, handlers.WithCheckoutReplay(checkoutReplay))
	adminHandlers := handlers.NewAdminHandlers(gate, svc.Orders, svc.Referrals,
		handlers.WithLoginRateLimit(cfg.Admin.LoginAttempts, cfg.Admin.LoginWindow),
		handlers.WithTrustedProxies(cfg.Server.TrustedProxies...),
	)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if healthRepo != nil {
		healthOpts = append(healthOpts, handlers.WithHealthReporter(healthRepo))
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(metrics),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.RequestTimeout()),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)
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
		serverLogger.Info("storefront api listening", zap.String("environment", buildInfo.Environment))
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
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newSessionStore connects to Redis. A local environment without an address gets an in-process server.
func newSessionStore(logger *zap.Logger, cfg config.SessionConfig, local bool) (*localstore.RedisStore, func(context.Context) error, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	var embedded *miniredis.Miniredis
	if addr == "" {
		if !local {
			return nil, nil, errors.New("API_REDIS_ADDR is required outside the local environment")
		}
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		embedded = mr
		addr = mr.Addr()
		logger.Warn("sessions: API_REDIS_ADDR not set; carts are kept in process memory", zap.String("addr", addr))
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store, err := localstore.NewRedisStore(client, cfg.TTL)
	if err != nil {
		_ = client.Close()
		if embedded != nil {
			embedded.Close()
		}
		return nil, nil, err
	}
	closeFn := func(context.Context) error {
		err := client.Close()
		if embedded != nil {
			embedded.Close()
		}
		return err
	}
	return store, closeFn, nil
}

func newConfirmationPublisher(ctx context.Context, logger *zap.Logger, cfg config.NotificationConfig) (*jobs.PubSubConfirmationPublisher, func(context.Context) error, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	topicName := strings.TrimSpace(cfg.Topic)
	if project == "" || topicName == "" {
		logger.Warn("notifications: pubsub project or topic not configured; confirmations disabled")
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	publisher, err := jobs.NewPubSubConfirmationPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func(context.Context) error {
		topic.Stop()
		return client.Close()
	}
	return publisher, closeFn, nil
}

// newAdminGate falls back to a per-process signing key when none is configured; sessions then
// do not survive a restart.
func newAdminGate(logger *zap.Logger, cfg config.AdminConfig) (*auth.AdminGate, error) {
	if strings.TrimSpace(cfg.Password) == "" {
		logger.Warn("admin: API_ADMIN_PASSWORD not set; admin login will answer 500")
	}
	secret := strings.TrimSpace(cfg.TokenSecret)
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate admin token secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		logger.Warn("admin: API_ADMIN_TOKEN_SECRET not set; using an ephemeral signing key")
	}
	return auth.NewAdminGate(cfg.Password, secret, auth.WithSessionTTL(cfg.SessionTTL))
}

func newHealthRepository(provider *pfirestore.Provider, sessions *localstore.RedisStore) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})
	}
	if sessions != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Timeout:  time.Second,
			Optional: true,
			Check:    sessions.Ping,
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func loadLocation(logger *zap.Logger, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("confirmation time zone unavailable; using UTC", zap.String("zone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

func isLocalEnvironment(values map[string]string) bool {
	env := strings.ToLower(strings.TrimSpace(values["API_SECURITY_ENVIRONMENT"]))
	return env == "" || env == "local"
}
