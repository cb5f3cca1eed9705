package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/app"
	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/di"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func testConfig(t *testing.T, profile config.DeploymentProfile) *config.Config {
	t.Helper()
	cfg := &config.Config{
		AppEnv:                     "test",
		HTTPAddr:                   "127.0.0.1:0",
		LogLevel:                   "info",
		RelayBackend:               "memory",
		RelayKeyPrefix:             "itest",
		ClinicOwnerID:              "clinic-1",
		DeploymentProfile:          profile,
		RemoteRespondentsEnabled:   true,
		PublicBaseURL:              "https://clinic.example.org",
		SessionDefaultTTL:          time.Hour,
		SessionSnapshotGrace:       time.Hour,
		RelayResweepInterval:       200 * time.Millisecond,
		ExpiredCleanupRetention:    24 * time.Hour,
		NegativeLookupCacheEnabled: true,
		NegativeLookupTTL:          time.Minute,
		PublicRateLimitRPM:         10000,
		APIRateLimitRPM:            10000,
		OTELServiceName:            "clinic-survey-relay-itest",
		ShutdownTimeout:            5 * time.Second,
		ShutdownHTTPDrainTimeout:   time.Second,
	}
	if profile == config.ProfileClinic {
		cfg.DatabaseURL = filepath.Join(t.TempDir(), "clinic.db")
	}
	return cfg
}

// startProcess wires one API process the way cmd/api does and serves it on
// an ephemeral port. The coordinator, when the profile has one, runs until
// the test ends.
func startProcess(t *testing.T, cfg *config.Config) (string, *app.App) {
	t.Helper()
	logging := &observability.Logging{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	a, cleanup, err := di.InitializeApp(context.Background(), cfg, logging)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if a.Coordinator != nil {
			_ = a.Coordinator.Run(ctx)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		cleanup()
	})
	return srv.URL, a
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, out any) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp, env
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

var intakeTemplate = map[string]any{
	"id":   "intake",
	"name": "Intake",
	"questions": []map[string]any{
		{"id": "q1", "question_text": "How do you feel today?", "question_type": "text", "required": true},
		{"id": "q2", "question_text": "Pain level", "question_type": "scale", "scale_config": map[string]int{"min": 0, "max": 10}},
	},
}
