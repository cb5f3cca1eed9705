package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	opResolve        = "resolve"
	opResolveUnknown = "resolve_unknown"
	opSubmit         = "submit"
)

// Config drives synthetic respondent traffic against a running API. Setup
// uses the clinic API, so the target must run the clinic profile.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	// TemplateID is used for seeded sessions; a throwaway template is
	// created when empty.
	TemplateID string
	// Sessions is the size of the pool that resolve traffic cycles over.
	Sessions int
}

type Result struct {
	TotalRequests int            `json:"total_requests"`
	Failures      int            `json:"failures"`
	StatusClasses map[string]int `json:"status_classes"`
	Operations    map[string]int `json:"operations"`
	P50           time.Duration  `json:"p50"`
	P95           time.Duration  `json:"p95"`
}

func (r Result) Summary() []string {
	lines := []string{
		fmt.Sprintf("requests=%d failures=%d p50=%s p95=%s", r.TotalRequests, r.Failures, r.P50, r.P95),
	}
	for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other"} {
		if n := r.StatusClasses[class]; n > 0 {
			lines = append(lines, fmt.Sprintf("%s=%d", class, n))
		}
	}
	return lines
}

type runner struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	result    Result
	latencies []time.Duration
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.BaseURL == "" {
		return Result{}, errors.New("base url is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	cfg.RPS = min(cfg.RPS, 1000)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = 20
	}
	r := &runner{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		result: Result{StatusClasses: map[string]int{}, Operations: map[string]int{}},
	}

	mix, err := operationMix(cfg.Profile)
	if err != nil {
		return Result{}, err
	}
	var tokens []string
	if cfg.Profile != "unknown" {
		if cfg.TemplateID == "" {
			if cfg.TemplateID, err = r.createTemplate(ctx); err != nil {
				return Result{}, fmt.Errorf("seed template: %w", err)
			}
			r.cfg.TemplateID = cfg.TemplateID
		}
		for range cfg.Sessions {
			token, err := r.createSession(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("seed sessions: %w", err)
			}
			tokens = append(tokens, token)
		}
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	jobs := make(chan job)
	var wg sync.WaitGroup
	for range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r.do(ctx, j)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			j := job{op: pick(rng, mix)}
			switch j.op {
			case opResolve:
				j.token = tokens[rng.IntN(len(tokens))]
			case opResolveUnknown:
				j.token = randomToken(rng)
			}
			select {
			case jobs <- j:
			case <-runCtx.Done():
				break loop
			}
		}
	}
	close(jobs)
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.result
	slices.Sort(r.latencies)
	res.P50 = percentile(r.latencies, 0.50)
	res.P95 = percentile(r.latencies, 0.95)
	return res, nil
}

type job struct {
	op    string
	token string
}

type weighted struct {
	op     string
	weight int
}

func operationMix(profile string) ([]weighted, error) {
	switch profile {
	case "mixed":
		return []weighted{{opResolve, 60}, {opResolveUnknown, 25}, {opSubmit, 15}}, nil
	case "resolve":
		return []weighted{{opResolve, 1}}, nil
	case "unknown":
		return []weighted{{opResolveUnknown, 1}}, nil
	case "submit":
		return []weighted{{opSubmit, 1}}, nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}

func pick(rng *rand.Rand, mix []weighted) string {
	total := 0
	for _, w := range mix {
		total += w.weight
	}
	n := rng.IntN(total)
	for _, w := range mix {
		if n < w.weight {
			return w.op
		}
		n -= w.weight
	}
	return mix[len(mix)-1].op
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(rng *rand.Rand) string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = tokenAlphabet[rng.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

func (r *runner) do(ctx context.Context, j job) {
	switch j.op {
	case opResolve, opResolveUnknown:
		status, elapsed, err := r.send(ctx, http.MethodGet, "/api/v1/public/surveys/"+j.token, nil, nil)
		// An unknown token answering 404 is the expected outcome.
		r.record(j.op, status, elapsed, err, j.op == opResolveUnknown && status == http.StatusNotFound)
	case opSubmit:
		token, err := r.createSession(ctx)
		if err != nil {
			r.record(j.op, 0, 0, err, false)
			return
		}
		body := map[string]any{"answers": []map[string]any{{"question_id": "q1", "answer": "load test"}}}
		status, elapsed, err := r.send(ctx, http.MethodPost, "/api/v1/public/surveys/"+token+"/responses", body, nil)
		r.record(j.op, status, elapsed, err, false)
	}
}

func (r *runner) record(op string, status int, elapsed time.Duration, err error, expected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.TotalRequests++
	r.result.Operations[op]++
	if err != nil {
		r.result.Failures++
		r.result.StatusClasses["other"]++
		return
	}
	r.result.StatusClasses[classifyStatusClass(status)]++
	r.latencies = append(r.latencies, elapsed)
	if status >= 400 && !expected {
		r.result.Failures++
	}
}

func (r *runner) send(ctx context.Context, method, path string, body any, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	elapsed := time.Since(start)
	if out != nil && resp.StatusCode < 300 {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return resp.StatusCode, elapsed, err
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, elapsed, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, elapsed, nil
}

func (r *runner) createTemplate(ctx context.Context) (string, error) {
	body := map[string]any{
		"name": "loadgen",
		"questions": []map[string]any{
			{"id": "q1", "question_text": "Anything to add?", "question_type": "text"},
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	status, _, err := r.send(ctx, http.MethodPost, "/api/v1/clinic/templates", body, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create template: unexpected status %d", status)
	}
	return out.ID, nil
}

func (r *runner) createSession(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	status, _, err := r.send(ctx, http.MethodPost, "/api/v1/clinic/sessions", map[string]any{"template_id": r.cfg.TemplateID}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create session: unexpected status %d", status)
	}
	return out.Token, nil
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}
