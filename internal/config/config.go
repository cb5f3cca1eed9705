package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type DeploymentProfile string

const (
	// ProfileClinic runs next to the local store: direct submissions and the
	// sync coordinator are available.
	ProfileClinic DeploymentProfile = "clinic"
	// ProfileRemote only reaches the relay.
	ProfileRemote DeploymentProfile = "remote"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DatabaseURL string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RelayBackend   string
	RelayKeyPrefix string

	ClinicOwnerID            string
	DeploymentProfile        DeploymentProfile
	RemoteRespondentsEnabled bool
	PublicBaseURL            string
	SessionDefaultTTL        time.Duration
	SessionSnapshotGrace     time.Duration
	RelayResweepInterval     time.Duration
	RelayMirrorRetryInterval time.Duration
	ExpiredCleanupInterval   time.Duration
	ExpiredCleanupRetention  time.Duration

	NegativeLookupCacheEnabled bool
	NegativeLookupTTL          time.Duration
	PublicRateLimitRPM         int
	APIRateLimitRPM            int
	CORSAllowedOrigins         []string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	cfg, err := load(os.Getenv)
	if err != nil {
		recordConfigValidationEvent(context.Background(), os.Getenv("APP_ENV"), os.Getenv("DEPLOYMENT_PROFILE"), "error", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.AppEnv, string(cfg.DeploymentProfile), "success", "none")
	return cfg, nil
}

func load(getenv func(string) string) (*Config, error) {
	p := envParser{getenv: getenv}
	cfg := &Config{
		AppEnv:   p.str("APP_ENV", "development"),
		HTTPAddr: p.str("HTTP_ADDR", ":8080"),
		LogLevel: p.str("LOG_LEVEL", "info"),

		DatabaseURL: p.str("DATABASE_URL", "clinic.db"),

		RedisAddr:      p.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  p.str("REDIS_PASSWORD", ""),
		RedisDB:        p.integer("REDIS_DB", 0),
		RelayBackend:   strings.ToLower(p.str("RELAY_BACKEND", "redis")),
		RelayKeyPrefix: p.str("RELAY_KEY_PREFIX", "relay"),

		ClinicOwnerID:            p.str("CLINIC_OWNER_ID", ""),
		DeploymentProfile:        DeploymentProfile(strings.ToLower(p.str("DEPLOYMENT_PROFILE", string(ProfileClinic)))),
		RemoteRespondentsEnabled: p.boolean("REMOTE_RESPONDENTS_ENABLED", true),
		PublicBaseURL:            strings.TrimRight(p.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SessionDefaultTTL:        p.duration("SESSION_DEFAULT_TTL", 24*time.Hour),
		SessionSnapshotGrace:     p.duration("SESSION_SNAPSHOT_GRACE", 24*time.Hour),
		RelayResweepInterval:     p.duration("RELAY_RESWEEP_INTERVAL", time.Minute),
		RelayMirrorRetryInterval: p.duration("RELAY_MIRROR_RETRY_INTERVAL", 30*time.Second),
		ExpiredCleanupInterval:   p.duration("EXPIRED_CLEANUP_INTERVAL", 0),
		ExpiredCleanupRetention:  p.duration("EXPIRED_CLEANUP_RETENTION", 30*24*time.Hour),

		NegativeLookupCacheEnabled: p.boolean("NEGATIVE_LOOKUP_CACHE_ENABLED", true),
		NegativeLookupTTL:          p.duration("NEGATIVE_LOOKUP_TTL", 30*time.Second),
		PublicRateLimitRPM:         p.integer("PUBLIC_RATE_LIMIT_RPM", 60),
		APIRateLimitRPM:            p.integer("API_RATE_LIMIT_RPM", 600),
		CORSAllowedOrigins:         p.list("CORS_ALLOWED_ORIGINS"),

		OTELServiceName:           p.str("OTEL_SERVICE_NAME", "clinic-survey-relay"),
		OTELEnvironment:           p.str("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint:  p.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.boolean("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.boolean("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.boolean("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSampleRatio:      p.float("OTEL_TRACE_SAMPLE_RATIO", 1.0),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" && c.DeploymentProfile == ProfileClinic {
		errs = append(errs, errors.New("DATABASE_URL is required for the clinic profile"))
	}
	if strings.TrimSpace(c.ClinicOwnerID) == "" {
		errs = append(errs, errors.New("CLINIC_OWNER_ID is required"))
	}
	switch c.DeploymentProfile {
	case ProfileClinic, ProfileRemote:
	default:
		errs = append(errs, fmt.Errorf("DEPLOYMENT_PROFILE must be clinic or remote, got %q", c.DeploymentProfile))
	}
	switch c.RelayBackend {
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required when RELAY_BACKEND=redis"))
		}
	case "memory":
		if c.DeploymentProfile == ProfileRemote {
			errs = append(errs, errors.New("RELAY_BACKEND=memory cannot serve the remote profile"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELAY_BACKEND must be redis or memory, got %q", c.RelayBackend))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL))
	}
	if c.SessionDefaultTTL < 0 {
		errs = append(errs, errors.New("SESSION_DEFAULT_TTL must not be negative"))
	}
	if c.RelayResweepInterval < 0 || c.RelayMirrorRetryInterval < 0 || c.ExpiredCleanupInterval < 0 {
		errs = append(errs, errors.New("background intervals must not be negative"))
	}
	if c.NegativeLookupTTL <= 0 {
		errs = append(errs, errors.New("NEGATIVE_LOOKUP_TTL must be positive"))
	}
	if c.PublicRateLimitRPM < 0 || c.APIRateLimitRPM < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.OTELTraceSampleRatio < 0 || c.OTELTraceSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLE_RATIO must be within [0,1]"))
	}
	if c.OTELMetricsEnabled && c.OTELMetricsExportInterval <= 0 {
		errs = append(errs, errors.New("OTEL_METRICS_EXPORT_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// SyncEnabled reports whether this process should run the sync coordinator.
func (c *Config) SyncEnabled() bool {
	return c.DeploymentProfile == ProfileClinic
}

type envParser struct {
	getenv func(string) string
	err    error
}

func (p *envParser) raw(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *envParser) str(key, fallback string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return fallback
}

func (p *envParser) list(key string) []string {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *envParser) integer(key string, fallback int) int {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return f
}

func (p *envParser) boolean(key string, fallback bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = &ParseError{Key: key, Err: err}
	}
}
