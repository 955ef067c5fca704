package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/config"
	"github.com/fyrsmithlabs/opsdesk/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/opsdesk/internal/api"

	defaultMaxRetries  = 2
	defaultBaseBackoff = 250 * time.Millisecond
	maxResponseSize    = 4 * 1024 * 1024
)

// Client talks to the admin REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *logging.Logger
	maxRetries int
	backoff    time.Duration
	tokens     oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetries overrides the retry count and base backoff for idempotent reads.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.backoff = backoff
	}
}

// WithTokenSource authenticates requests with tokens from ts, consulted on
// every request. It takes precedence over a static token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// NewClient creates a client for cfg.BaseURL. When token is set every request
// carries it as a bearer token; an unset token yields an anonymous client
// suitable only for Login.
func NewClient(cfg config.APIConfig, token config.Secret, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.RateLimit <= 0 || cfg.Burst < 1 {
		return nil, fmt.Errorf("invalid rate limit %v/%d", cfg.RateLimit, cfg.Burst)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		tracer:     otel.Tracer(instrumentationName),
		logger:     logging.Nop(),
		maxRetries: defaultMaxRetries,
		backoff:    defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokens == nil && token.IsSet() {
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value(), TokenType: "Bearer"})
	}
	c.httpClient = &http.Client{Timeout: cfg.Timeout}
	if c.tokens != nil {
		// No ReuseTokenSource: session tokens carry no expiry and the
		// source is read on every request.
		c.httpClient.Transport = &oauth2.Transport{
			Source: tokenSource{c.tokens},
			Base:   http.DefaultTransport,
		}
	}

	return c, nil
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs a request against route and decodes the envelope data into
// out. GET requests are retried on transient failures.
func (c *Client) call(ctx context.Context, method, route, path string, query url.Values, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "api."+method+" "+route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.do(ctx, method, path, query, payload, out)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			break
		}
		c.logger.Debug(ctx, "retrying request",
			zap.String("route", route),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	if isRetryableError(lastErr) && retries > 0 {
		return fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var te *tokenError
		if errors.As(err, &te) {
			return fmt.Errorf("failed to get auth token: %w", te.err)
		}
		return &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug(ctx, "api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &retryableError{err: apiErr}
		}
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if !env.Success {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

func pageQuery(page, limit int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	return q
}
