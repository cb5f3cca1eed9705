package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/clinic-survey-relay/internal/app"
	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/database"
	"github.com/sandeepkv93/clinic-survey-relay/internal/health"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/handler"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/middleware"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/router"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relaysync"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

var ConfigSet = wire.NewSet(
	provideLogger,
	provideObservabilityRuntime,
)

var StorageSet = wire.NewSet(
	provideDB,
	provideRedisClient,
	provideRelayStore,
	provideNegativeLookupCacheStore,
	provideTemplateRepository,
	provideSessionRepository,
	provideResponseRepository,
)

var ServiceSet = wire.NewSet(
	service.NewChangeNotifier,
	provideUnknownTokenCache,
	provideTokenGenerator,
	provideTemplateService,
	provideSessionService,
	provideResolutionService,
	provideSubmissionService,
	provideResponseService,
	provideIngestor,
	provideCoordinator,
)

var HTTPSet = wire.NewSet(
	handler.NewPublicHandler,
	provideClinicHandler,
	provideChangesHandler,
	provideReadiness,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(
	provideExpiredCleanup,
	provideMirrorRetry,
	provideBackgroundStop,
	app.New,
)

var ToolingSet = wire.NewSet(
	wire.Struct(new(Tooling), "*"),
)

// Tooling is the subset of the graph the operator CLI drives directly.
type Tooling struct {
	Config   *config.Config
	Relay    relay.Store
	Ingestor *relaysync.Ingestor
	Sessions *service.SessionService
}

func provideLogger(logging *observability.Logging) *slog.Logger {
	return logging.Logger
}

func provideObservabilityRuntime(ctx context.Context, cfg *config.Config, logging *observability.Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logging)
}

// provideDB opens the local store. The remote profile has none and gets nil.
func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	if cfg.DeploymentProfile != config.ProfileClinic {
		return nil, func() {}, nil
	}
	db, err := database.Open(database.Options{DSN: cfg.DatabaseURL})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return db, func() { _ = database.Close(db) }, nil
}

// provideRedisClient returns nil when the relay runs in-process.
func provideRedisClient(cfg *config.Config) (redis.UniversalClient, func(), error) {
	if cfg.RelayBackend != "redis" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }, nil
}

func provideRelayStore(cfg *config.Config, client redis.UniversalClient, logger *slog.Logger) relay.Store {
	if client == nil {
		return relay.NewInMemoryStore(logger)
	}
	return relay.NewRedisStore(client, cfg.RelayKeyPrefix, logger)
}

func provideNegativeLookupCacheStore(cfg *config.Config, client redis.UniversalClient) service.NegativeLookupCacheStore {
	switch {
	case !cfg.NegativeLookupCacheEnabled:
		return service.NewNoopNegativeLookupCacheStore()
	case client != nil:
		return service.NewRedisNegativeLookupCacheStore(client, cfg.RelayKeyPrefix+":negative")
	default:
		return service.NewInMemoryNegativeLookupCacheStore()
	}
}

// The repository providers return a nil interface, not a typed nil, when
// there is no local store; services branch on that.
func provideTemplateRepository(db *gorm.DB) repository.TemplateRepository {
	if db == nil {
		return nil
	}
	return repository.NewTemplateRepository(db)
}

func provideSessionRepository(db *gorm.DB) repository.SessionRepository {
	if db == nil {
		return nil
	}
	return repository.NewSessionRepository(db)
}

func provideResponseRepository(db *gorm.DB) repository.ResponseRepository {
	if db == nil {
		return nil
	}
	return repository.NewResponseRepository(db)
}

func provideUnknownTokenCache(cfg *config.Config, store service.NegativeLookupCacheStore, logger *slog.Logger) *service.UnknownTokenCache {
	return service.NewUnknownTokenCache(store, cfg.NegativeLookupTTL, logger)
}

func provideTokenGenerator() *security.TokenGenerator {
	return security.NewTokenGenerator(nil)
}

func provideTemplateService(templates repository.TemplateRepository, notifier *service.ChangeNotifier) *service.TemplateService {
	if templates == nil {
		return nil
	}
	return service.NewTemplateService(templates, notifier)
}

func provideSessionService(
	cfg *config.Config,
	sessions repository.SessionRepository,
	templates *service.TemplateService,
	relayStore relay.Store,
	tokens *security.TokenGenerator,
	unknown *service.UnknownTokenCache,
	notifier *service.ChangeNotifier,
	logger *slog.Logger,
) *service.SessionService {
	return service.NewSessionService(sessions, templates, relayStore, tokens, unknown, notifier, service.SessionServiceConfig{
		OwnerID:           cfg.ClinicOwnerID,
		DefaultTTL:        cfg.SessionDefaultTTL,
		SnapshotGrace:     cfg.SessionSnapshotGrace,
		RemoteRespondents: cfg.RemoteRespondentsEnabled,
		PublicBaseURL:     cfg.PublicBaseURL,
	}, logger)
}

func provideResolutionService(
	sessions repository.SessionRepository,
	templates repository.TemplateRepository,
	relayStore relay.Store,
	lifecycle *service.SessionService,
	unknown *service.UnknownTokenCache,
	logger *slog.Logger,
) *service.ResolutionService {
	return service.NewResolutionService(sessions, templates, relayStore, lifecycle, unknown, logger)
}

func provideSubmissionService(
	responses repository.ResponseRepository,
	templates *service.TemplateService,
	resolution *service.ResolutionService,
	relayStore relay.Store,
	notifier *service.ChangeNotifier,
	logger *slog.Logger,
) *service.SubmissionService {
	return service.NewSubmissionService(responses, templates, resolution, relayStore, notifier, logger)
}

func provideResponseService(responses repository.ResponseRepository, notifier *service.ChangeNotifier) *service.ResponseService {
	if responses == nil {
		return nil
	}
	return service.NewResponseService(responses, notifier)
}

func provideIngestor(
	cfg *config.Config,
	responses repository.ResponseRepository,
	relayStore relay.Store,
	notifier *service.ChangeNotifier,
	logger *slog.Logger,
) *relaysync.Ingestor {
	if responses == nil {
		return nil
	}
	return relaysync.NewIngestor(cfg.ClinicOwnerID, responses, relayStore, notifier, logger)
}

// provideCoordinator returns nil unless this process owns the local store.
func provideCoordinator(cfg *config.Config, relayStore relay.Store, ingestor *relaysync.Ingestor, logger *slog.Logger) *relaysync.Coordinator {
	if !cfg.SyncEnabled() || ingestor == nil {
		return nil
	}
	return relaysync.NewCoordinator(cfg.ClinicOwnerID, relayStore, ingestor, relaysync.Options{
		ResweepInterval: resweepInterval(cfg.RelayResweepInterval),
		Logger:          logger,
	})
}

// resweepInterval maps the config convention (zero disables) onto the
// coordinator's (zero means default, negative disables).
func resweepInterval(configured time.Duration) time.Duration {
	if configured <= 0 {
		return -1
	}
	return configured
}

func provideClinicHandler(
	cfg *config.Config,
	templates *service.TemplateService,
	sessions *service.SessionService,
	responses *service.ResponseService,
	submissions *service.SubmissionService,
) *handler.ClinicHandler {
	if templates == nil || responses == nil {
		return nil
	}
	return handler.NewClinicHandler(templates, sessions, responses, submissions, cfg.ExpiredCleanupRetention)
}

func provideChangesHandler(cfg *config.Config, notifier *service.ChangeNotifier) *handler.ChangesHandler {
	if cfg.DeploymentProfile != config.ProfileClinic {
		return nil
	}
	return handler.NewChangesHandler(notifier, 0)
}

func provideReadiness(db *gorm.DB, relayStore relay.Store) *health.ProbeRunner {
	checkers := []health.Checker{health.NewRelayChecker(relayStore)}
	if db != nil {
		checkers = append(checkers, health.NewDBChecker(db))
	}
	return health.NewProbeRunner(2*time.Second, time.Second, checkers...)
}

func provideRouterDependencies(
	cfg *config.Config,
	public *handler.PublicHandler,
	clinic *handler.ClinicHandler,
	changes *handler.ChangesHandler,
	readiness *health.ProbeRunner,
	client redis.UniversalClient,
) router.Dependencies {
	dep := router.Dependencies{
		PublicHandler:      public,
		ClinicHandler:      clinic,
		ChangesHandler:     changes,
		CORSOrigins:        cfg.CORSAllowedOrigins,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		PublicRateLimitRPM: cfg.PublicRateLimitRPM,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELTracingEnabled || cfg.OTELMetricsEnabled,
	}
	// Several public web processes share one budget through Redis.
	if client != nil && cfg.PublicRateLimitRPM > 0 {
		limiter := middleware.NewRedisFixedWindowLimiter(client, cfg.RelayKeyPrefix+":ratelimit")
		dep.PublicRateLimiter = middleware.NewDistributedRateLimiter(limiter, cfg.PublicRateLimitRPM, time.Minute, middleware.FailOpen, "public").Middleware()
	}
	return dep
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideExpiredCleanup(cfg *config.Config, sessions *service.SessionService) *app.ExpiredCleanup {
	if cfg.DeploymentProfile != config.ProfileClinic || cfg.ExpiredCleanupInterval <= 0 {
		return nil
	}
	return &app.ExpiredCleanup{
		Interval:  cfg.ExpiredCleanupInterval,
		Retention: cfg.ExpiredCleanupRetention,
		Run:       sessions.CleanupExpired,
	}
}

func provideMirrorRetry(cfg *config.Config, sessions *service.SessionService) *app.MirrorRetry {
	if cfg.DeploymentProfile != config.ProfileClinic || !cfg.RemoteRespondentsEnabled || cfg.RelayMirrorRetryInterval <= 0 {
		return nil
	}
	return &app.MirrorRetry{Interval: cfg.RelayMirrorRetryInterval, Run: sessions.RetryMirrors}
}

// provideBackgroundStop is invoked by App once HTTP and the coordinator have
// stopped. Connection cleanup itself is owned by the injector's cleanup func.
func provideBackgroundStop(logger *slog.Logger) func() {
	return func() { logger.Info("background tasks stopped") }
}

var errProfileMismatch = errors.New("deployment profile mismatch")

// RequireLocalStore fails fast for commands that need the clinic profile.
func RequireLocalStore(cfg *config.Config) error {
	if cfg.DeploymentProfile != config.ProfileClinic {
		return fmt.Errorf("%w: %s has no local store", errProfileMismatch, cfg.DeploymentProfile)
	}
	return nil
}
