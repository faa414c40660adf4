package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/firewatch/firewatch/internal/common/logger"
	"github.com/firewatch/firewatch/internal/tracing"
)

const (
	defaultAPIBase    = "https://api.github.com"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	initialRetryDelay = 500 * time.Millisecond
)

var _ Client = (*PATClient)(nil)

// PATClient implements Client over a personal access token. It is stateless
// apart from the token and the adaptive rate limiter.
type PATClient struct {
	token      string
	apiBase    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *logger.Logger
}

// Option customizes a PATClient.
type Option func(*PATClient)

// WithBaseURL points the client at a non-default API host (tests).
func WithBaseURL(base string) Option {
	return func(c *PATClient) { c.apiBase = base }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *PATClient) { c.httpClient = hc }
}

// WithMaxRetries bounds the transient-error retry loop.
func WithMaxRetries(n int) Option {
	return func(c *PATClient) { c.maxRetries = n }
}

// NewPATClient creates a GitHub client authenticated with a bearer token.
func NewPATClient(token string, log *logger.Logger, opts ...Option) *PATClient {
	c := &PATClient{
		token:      token,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: defaultTimeout},
		// Start generous; tightened from response headers as quota drains.
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		maxRetries: defaultMaxRetries,
		logger:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one HTTP request with auth, rate limiting, and retry on
// transient failures. The returned body is fully read and the response
// closed.
func (c *PATClient) do(ctx context.Context, method, url string, body []byte) ([]byte, *http.Response, error) {
	ctx, span := tracing.Tracer("github").Start(ctx, "github.request")
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", url))
	defer span.End()

	var lastErr error
	delay := initialRetryDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter.
			sleep := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
			delay *= 2
			select {
			case <-ctx.Done():
				return nil, nil, &TransientError{Err: ctx.Err()}
			case <-time.After(sleep):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, &TransientError{Err: err}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, nil, &PermanentError{Msg: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &TransientError{Err: err}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = &TransientError{Err: err}
			continue
		}

		c.updateRateLimit(resp)

		if resp.StatusCode >= 500 {
			lastErr = &TransientError{Err: fmt.Errorf("server error %d", resp.StatusCode)}
			continue
		}
		if err := classifyStatus(resp, respBody); err != nil {
			return nil, resp, err
		}
		return respBody, resp, nil
	}

	c.logger.Warn("github request exhausted retries",
		zap.String("method", method), zap.String("url", url), zap.Error(lastErr))
	return nil, nil, lastErr
}

// updateRateLimit adapts the limiter to the remaining quota so a long sync
// spreads its budget across the window instead of slamming into the wall.
func (c *PATClient) updateRateLimit(resp *http.Response) {
	remaining, err := strconv.Atoi(resp.Header.Get("X-Ratelimit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(resp.Header.Get("X-Ratelimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	window := time.Until(time.Unix(reset, 0))
	if window <= 0 || remaining <= 0 {
		return
	}
	perSecond := float64(remaining) / window.Seconds()
	if perSecond > 10 {
		perSecond = 10
	}
	c.limiter.SetLimit(rate.Limit(perSecond))
}

// classifyStatus maps a non-5xx HTTP failure to the error taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Msg: "token rejected (401)"}
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-Ratelimit-Remaining") == "0" {
			return &RateLimitError{Reset: parseReset(resp)}
		}
		return &AuthError{Msg: "forbidden (403)"}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: resp.Request.URL.Path}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &ConflictError{Msg: apiMessage(body)}
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Msg: apiMessage(body)}
	}
}

func parseReset(resp *http.Response) time.Time {
	if v, err := strconv.ParseInt(resp.Header.Get("X-Ratelimit-Reset"), 10, 64); err == nil {
		return time.Unix(v, 0)
	}
	return time.Now().Add(time.Minute)
}

// apiMessage extracts GitHub's error message from a failure body.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
