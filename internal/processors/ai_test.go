package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"jobmill/internal/eventbus"
	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

func startScheduler(t *testing.T) *jobs.Scheduler {
	t.Helper()
	s := jobs.New(jobs.Config{
		Concurrency:  2,
		PollInterval: 20 * time.Millisecond,
		BackoffBase:  25 * time.Millisecond,
	}, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func waitStatus(t *testing.T, s *jobs.Scheduler, id string, want jobs.Status) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := s.Job(id); ok && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s to reach %s", id, want)
	return jobs.Job{}
}

func activeJob(id, typ string) jobs.Job {
	return jobs.Job{ID: id, Type: typ, Status: jobs.StatusActive}
}

func noProgress(int) {}

func TestCompletionHappyPath(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k-123" {
			t.Errorf("auth header = %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "tiny-1" || req.Prompt != "say hi" {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(completionResult{Text: "hi there", Model: "tiny-1", Tokens: 7})
	}))
	t.Cleanup(srv.Close)

	a := NewAI(AIConfig{BaseURL: srv.URL, APIKey: "k-123", Model: "tiny-1"}, logx.Nop())
	out, err := a.run(context.Background(), activeJob("j1", TypeAICompletion), completionPayload{Prompt: "say hi"}, noProgress)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res, ok := out.(completionResult)
	if !ok {
		t.Fatalf("result type = %T", out)
	}
	if res.Text != "hi there" || res.Tokens != 7 {
		t.Fatalf("result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("api calls = %d, want 1", calls.Load())
	}
}

func TestCompletionStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		noRetry bool
	}{
		{"throttled", http.StatusTooManyRequests, "slow down", false},
		{"server error", http.StatusBadGateway, "upstream died", false},
		{"bad request", http.StatusBadRequest, `{"error":"prompt too long"}`, true},
		{"unauthorized", http.StatusUnauthorized, "nope", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			a := NewAI(AIConfig{BaseURL: srv.URL}, logx.Nop())
			_, err := a.run(context.Background(), activeJob("j1", TypeAICompletion), completionPayload{Prompt: "p"}, noProgress)
			if err == nil {
				t.Fatal("want error")
			}
			if got := jobs.IsNoRetry(err); got != tc.noRetry {
				t.Fatalf("IsNoRetry = %v, want %v (err: %v)", got, tc.noRetry, err)
			}
			if !strings.Contains(err.Error(), fmt.Sprintf("http %d", tc.status)) {
				t.Fatalf("error %q does not name the status", err)
			}
		})
	}
}

func TestCompletionValidation(t *testing.T) {
	t.Parallel()

	a := NewAI(AIConfig{BaseURL: "http://unused.invalid"}, logx.Nop())
	_, err := a.run(context.Background(), activeJob("j1", TypeAICompletion), completionPayload{Prompt: "  "}, noProgress)
	if !jobs.IsNoRetry(err) {
		t.Fatalf("blank prompt: err = %v, want no-retry", err)
	}

	a = NewAI(AIConfig{}, logx.Nop())
	_, err = a.run(context.Background(), activeJob("j2", TypeAICompletion), completionPayload{Prompt: "p"}, noProgress)
	if !jobs.IsNoRetry(err) {
		t.Fatalf("missing base_url: err = %v, want no-retry", err)
	}
}

func TestCompletionEmptyTextRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	t.Cleanup(srv.Close)

	a := NewAI(AIConfig{BaseURL: srv.URL}, logx.Nop())
	_, err := a.run(context.Background(), activeJob("j1", TypeAICompletion), completionPayload{Prompt: "p"}, noProgress)
	if err == nil || jobs.IsNoRetry(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
	if !strings.Contains(err.Error(), "empty text") {
		t.Fatalf("error = %q", err)
	}
}

func TestCompletionThroughScheduler(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"pong","tokens":3}`))
	}))
	t.Cleanup(srv.Close)

	s := startScheduler(t)
	NewAI(AIConfig{BaseURL: srv.URL}, logx.Nop()).Register(s)

	job, err := s.Enqueue(TypeAICompletion, map[string]any{"prompt": "ping"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	j := waitStatus(t, s, job.ID, jobs.StatusCompleted)

	res, ok := j.Result.(completionResult)
	if !ok {
		t.Fatalf("result type = %T", j.Result)
	}
	if res.Text != "pong" || res.Tokens != 3 {
		t.Fatalf("result = %+v", res)
	}
}
