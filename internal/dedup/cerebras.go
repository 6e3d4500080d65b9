// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package dedup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

const (
	cerebrasEndpoint = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel    = "llama-3.3-70b"

	summaryMaxTokens = 100
	summaryRetries   = 3
	maxRetryDelay    = 60 * time.Second
)

// thinkBlockRe strips reasoning traces some models prepend to output.
var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Cerebras calls the Cerebras chat-completions API. Calls are rate
// limited, retried with backoff, and guarded by a circuit breaker so a
// provider outage cannot stall a whole dedup pass on timeouts.
type Cerebras struct {
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewCerebras builds the provider. callInterval spaces successive calls;
// model falls back to the default when empty.
func NewCerebras(apiKey, model string, callInterval time.Duration) *Cerebras {
	if model == "" {
		model = cerebrasModel
	}
	if callInterval <= 0 {
		callInterval = 500 * time.Millisecond
	}
	return &Cerebras{
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(callInterval), 1),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    "cerebras",
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *Cerebras) Name() string { return "cerebras" }

func (c *Cerebras) IsConfigured() bool { return c.apiKey != "" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateSummary asks the model for the keyword line. Transient HTTP
// failures are retried with exponential backoff, honoring Retry-After
// when the API sends one.
func (c *Cerebras) GenerateSummary(ctx context.Context, text string) (string, error) {
	start := time.Now()
	out, err := c.breaker.Execute(func() (string, error) {
		return c.generateWithRetry(ctx, text)
	})
	metrics.AICallDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AICalls.WithLabelValues(c.Name(), "error").Inc()
		return "", err
	}
	metrics.AICalls.WithLabelValues(c.Name(), "ok").Inc()
	return out, nil
}

func (c *Cerebras) generateWithRetry(ctx context.Context, text string) (string, error) {
	delay := time.Second
	var lastErr error
	for attempt := 0; attempt <= summaryRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = min(delay*2, maxRetryDelay)
		}

		summary, retryAfter, err := c.call(ctx, text)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if retryAfter > 0 {
			delay = min(retryAfter, maxRetryDelay)
		}
		logging.Warn().Err(err).Int("attempt", attempt+1).Msg("AI summary call failed")
	}
	return "", fmt.Errorf("summary generation exhausted retries: %w", lastErr)
}

func (c *Cerebras) call(ctx context.Context, text string) (string, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cerebrasEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", parseRetryAfter(resp.Header.Get("Retry-After")),
			fmt.Errorf("cerebras API returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("failed to decode cerebras response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", 0, fmt.Errorf("cerebras response carried no choices")
	}
	return CleanSummary(parsed.Choices[0].Message.Content), 0, nil
}

// CleanSummary strips reasoning blocks and surrounding whitespace from
// raw model output.
func CleanSummary(raw string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(raw, ""))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
