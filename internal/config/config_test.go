package config

import (
	"strings"
	"testing"
	"time"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{"CLINIC_OWNER_ID": "clinic-1"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeploymentProfile != ProfileClinic || !cfg.SyncEnabled() {
		t.Fatalf("expected clinic profile with sync enabled, got %q", cfg.DeploymentProfile)
	}
	if cfg.SessionDefaultTTL != 24*time.Hour {
		t.Fatalf("unexpected default ttl %s", cfg.SessionDefaultTTL)
	}
	if cfg.RelayBackend != "redis" || cfg.RelayKeyPrefix != "relay" {
		t.Fatalf("unexpected relay defaults: backend=%q prefix=%q", cfg.RelayBackend, cfg.RelayKeyPrefix)
	}
	if cfg.RelayMirrorRetryInterval != 30*time.Second {
		t.Fatalf("unexpected mirror retry interval %s", cfg.RelayMirrorRetryInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(envFrom(map[string]string{
		"CLINIC_OWNER_ID":        "clinic-1",
		"DEPLOYMENT_PROFILE":     "REMOTE",
		"PUBLIC_BASE_URL":        "https://surveys.example.org/",
		"SESSION_DEFAULT_TTL":    "2h",
		"RELAY_RESWEEP_INTERVAL": "0s",
		"PUBLIC_RATE_LIMIT_RPM":  "10",
		"CORS_ALLOWED_ORIGINS":   " https://a.example.org, ,https://b.example.org",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeploymentProfile != ProfileRemote || cfg.SyncEnabled() {
		t.Fatalf("expected remote profile without sync, got %q", cfg.DeploymentProfile)
	}
	if cfg.PublicBaseURL != "https://surveys.example.org" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicBaseURL)
	}
	if cfg.SessionDefaultTTL != 2*time.Hour || cfg.RelayResweepInterval != 0 || cfg.PublicRateLimitRPM != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if strings.Join(cfg.CORSAllowedOrigins, "|") != "https://a.example.org|https://b.example.org" {
		t.Fatalf("unexpected cors origins %q", cfg.CORSAllowedOrigins)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing owner", env: map[string]string{}, wantErr: "validate config: CLINIC_OWNER_ID is required"},
		{name: "bad duration", env: map[string]string{"CLINIC_OWNER_ID": "c", "SESSION_DEFAULT_TTL": "soon"}, wantErr: "parse SESSION_DEFAULT_TTL"},
		{name: "bad bool", env: map[string]string{"CLINIC_OWNER_ID": "c", "OTEL_LOGS_ENABLED": "maybe"}, wantErr: "parse OTEL_LOGS_ENABLED"},
		{name: "bad profile", env: map[string]string{"CLINIC_OWNER_ID": "c", "DEPLOYMENT_PROFILE": "cloud"}, wantErr: "DEPLOYMENT_PROFILE must be clinic or remote"},
		{name: "memory relay remote", env: map[string]string{"CLINIC_OWNER_ID": "c", "DEPLOYMENT_PROFILE": "remote", "RELAY_BACKEND": "memory"}, wantErr: "cannot serve the remote profile"},
		{name: "relative base url", env: map[string]string{"CLINIC_OWNER_ID": "c", "PUBLIC_BASE_URL": "/s"}, wantErr: "PUBLIC_BASE_URL must be an absolute URL"},
		{name: "negative mirror retry", env: map[string]string{"CLINIC_OWNER_ID": "c", "RELAY_MIRROR_RETRY_INTERVAL": "-1s"}, wantErr: "background intervals must not be negative"},
		{name: "sample ratio", env: map[string]string{"CLINIC_OWNER_ID": "c", "OTEL_TRACE_SAMPLE_RATIO": "1.5"}, wantErr: "OTEL_TRACE_SAMPLE_RATIO"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(envFrom(tc.env))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadErrorsClassify(t *testing.T) {
	_, err := load(envFrom(map[string]string{"CLINIC_OWNER_ID": "c", "REDIS_DB": "x"}))
	if got := classifyConfigLoadError(err); got != "parse" {
		t.Fatalf("expected parse class, got %q (%v)", got, err)
	}
	_, err = load(envFrom(map[string]string{}))
	if got := classifyConfigLoadError(err); got != "validation" {
		t.Fatalf("expected validation class, got %q (%v)", got, err)
	}
}
