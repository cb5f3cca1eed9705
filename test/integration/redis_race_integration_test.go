package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/http/middleware"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/security"
)

func TestRedisRateLimiterConcurrentBurstHonorsLimit(t *testing.T) {
	redisClient := startRedisContainer(t)

	limiter := middleware.NewRedisFixedWindowLimiter(redisClient, "itest:rl")
	policy := middleware.Policy{Limit: 20, Window: 10 * time.Minute}

	const attempts = 100
	var allowed atomic.Int64
	errCh := make(chan error, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "public:10.0.0.10", policy)
			if err != nil {
				errCh <- err
				return
			}
			if decision.Allowed {
				allowed.Add(1)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("limiter allow failed: %v", err)
	}

	if got := allowed.Load(); got != int64(policy.Limit) {
		t.Fatalf("expected exactly %d allowed requests, got %d", policy.Limit, got)
	}

	decision, err := limiter.Allow(context.Background(), "public:10.0.0.10", policy)
	if err != nil {
		t.Fatalf("final allow call failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected next request after burst to be limited")
	}
}

func TestRedisSnapshotClaimAdmitsOneConcurrentSubmitter(t *testing.T) {
	redisClient := startRedisContainer(t)

	store := relay.NewRedisStore(redisClient, "itest:relay", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	token := "RACE" + strconv.Itoa(rand.Intn(9000)+1000)
	snap := domain.SessionSnapshot{
		SessionID:  "session-race",
		OwnerID:    "clinic-1",
		TemplateID: "intake",
		Status:     domain.SessionStatusPending,
		ExpiresAt:  time.Now().Add(time.Hour).UTC(),
		Template:   domain.TemplateSnapshot{ID: "intake", Name: "Intake"},
	}
	if err := store.PutSessionSnapshot(ctx, token, snap, time.Hour); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}

	const submitters = 12
	var claimed atomic.Int64
	errCh := make(chan error, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TransitionSnapshot(ctx, token, domain.SessionStatusCompleted, time.Now())
			if err != nil {
				errCh <- err
				return
			}
			if ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("transition failed: %v", err)
	}
	if got := claimed.Load(); got != 1 {
		t.Fatalf("expected exactly one submitter to claim the session, got %d", got)
	}

	got, err := store.GetSessionSnapshot(ctx, token)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.Status != domain.SessionStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed snapshot, got %+v", got)
	}
	ttl, err := redisClient.PTTL(ctx, "itest:relay:session:"+security.SurveyTokenFingerprint(token)).Result()
	if err != nil {
		t.Fatalf("pttl: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected claim to keep the snapshot ttl, got %s", ttl)
	}
}

// startRedisContainer runs a throwaway redis:7 container that is removed
// when the test ends.
func startRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("docker is not available; skipping redis container integration test")
	}

	hostPort := reserveLocalPort(t)
	containerName := fmt.Sprintf("relay-it-%d-%03d", time.Now().UnixNano(), rand.Intn(1000))

	runCmd := exec.Command("docker", "run", "-d", "--rm",
		"--name", containerName,
		"-p", fmt.Sprintf("127.0.0.1:%d:6379", hostPort),
		"redis:7-alpine",
		"redis-server", "--save", "", "--appendonly", "no",
	)
	out, err := runCmd.CombinedOutput()
	if err != nil {
		t.Skipf("unable to start redis container: %v output=%s", err, strings.TrimSpace(string(out)))
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%d", hostPort)})
	ctx := context.Background()
	for deadline := time.Now().Add(20 * time.Second); client.Ping(ctx).Err() != nil; time.Sleep(100 * time.Millisecond) {
		if time.Now().After(deadline) {
			_ = client.Close()
			_ = exec.Command("docker", "rm", "-f", containerName).Run()
			t.Fatalf("redis container %s never answered PING", containerName)
		}
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = exec.Command("docker", "rm", "-f", containerName).Run()
	})
	return client
}

func dockerAvailable() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func reserveLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve local port: %v", err)
	}
	defer func() { _ = l.Close() }()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected addr type %T", l.Addr())
	}
	return addr.Port
}
