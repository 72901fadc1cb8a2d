package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jobmill/internal/jobs"
	logx "jobmill/pkg/logx"
)

const aiMaxResponseBytes = 1 << 20

// AIConfig configures the ai.completion processor.
type AIConfig struct {
	BaseURL string // completion endpoint, e.g. "https://api.example.com/v1/complete"
	APIKey  string
	Model   string

	RatePerMin  int           // default 30
	HTTPTimeout time.Duration // default 30s
}

func (c AIConfig) withDefaults() AIConfig {
	if c.RatePerMin <= 0 {
		c.RatePerMin = 30
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// AI calls a JSON-over-HTTP completion API.
//
// Wire contract:
//
//	request:  {"model", "prompt", "system"?, "max_tokens"?, "temperature"?}
//	response: {"text", "model"?, "tokens"?}
//
// Server-side throttling (429) and 5xx responses are retryable; other
// non-2xx responses fail the job terminally.
type AI struct {
	cfg  AIConfig
	log  logx.Logger
	http *http.Client
	lim  *rate.Limiter
}

func NewAI(cfg AIConfig, log logx.Logger) *AI {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AI{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.HTTPTimeout},
		lim:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), cfg.RatePerMin),
	}
}

func (a *AI) Register(s *jobs.Scheduler) {
	jobs.Register(s, TypeAICompletion, a.run)
}

type completionPayload struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completionResult struct {
	Text   string `json:"text"`
	Model  string `json:"model,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

func (a *AI) run(ctx context.Context, job jobs.Job, p completionPayload, progress jobs.ProgressFunc) (any, error) {
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, jobs.NoRetry(errors.New("prompt is required"))
	}
	if strings.TrimSpace(a.cfg.BaseURL) == "" {
		return nil, jobs.NoRetry(errors.New("ai base_url is not configured"))
	}

	if err := a.lim.Wait(ctx); err != nil {
		return nil, err
	}
	progress(10)

	body, err := json.Marshal(completionRequest{
		Model:       a.cfg.Model,
		Prompt:      p.Prompt,
		System:      p.System,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, jobs.NoRetry(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, jobs.NoRetry(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		// Network failures are worth another attempt.
		return nil, fmt.Errorf("completion api: %w", err)
	}
	defer resp.Body.Close()
	progress(80)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, aiMaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("completion api read: %w", err)
	}

	switch {
	case resp.StatusCode/100 == 2:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		return nil, fmt.Errorf("completion api: http %d", resp.StatusCode)
	default:
		return nil, jobs.NoRetry(fmt.Errorf("completion api: http %d: %s", resp.StatusCode, truncateForError(raw)))
	}

	var out completionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("completion api decode: %w", err)
	}
	if out.Text == "" {
		return nil, fmt.Errorf("completion api returned empty text")
	}

	a.log.Debug("completion finished",
		logx.String("job_id", job.ID),
		logx.Int("tokens", out.Tokens),
	)
	return out, nil
}

func truncateForError(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
