// Package outlook is the HTTP client for the Microsoft identity and Graph
// endpoints: the OAuth2 refresh grant plus the mail folder/message resources.
// All calls share one retry/backoff policy driven by error classification, a
// bounded per-attempt timeout and an optional outbound rate limiter.
package outlook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/mailvault/internal/logging"
)

const (
	DefaultTokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	DefaultBaseURL  = "https://graph.microsoft.com/v1.0"

	defaultScope = "https://graph.microsoft.com/.default"
)

// TokenSource supplies an access token for authenticated Graph calls.
// Token may serve a cached value; Refresh must obtain a new one. The
// credential cache provides per-account implementations.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Token is the outcome of a successful refresh-grant exchange.
type Token struct {
	AccessToken string
	ExpiresIn   int // seconds
}

// Config carries the tunables for the client. Zero values select defaults.
type Config struct {
	TokenURL string
	BaseURL  string

	// Timeout bounds each individual attempt, not the whole retried call.
	Timeout time.Duration

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RequestsPerSecond throttles all outbound requests; zero disables
	// the limiter.
	RequestsPerSecond float64
	Burst             int
}

func (c *Config) withDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

type Client struct {
	http     *http.Client
	tokenURL string
	baseURL  string

	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	limiter *rate.Limiter
	log     logging.Logger

	// sleep is a test seam so backoff behavior can be asserted without
	// real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, log logging.Logger) *Client {
	cfg.withDefaults()

	c := &Client{
		http:        &http.Client{},
		tokenURL:    cfg.TokenURL,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
		log:         log.With("component", "outlook"),
		sleep:       sleepCtx,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs fn until it succeeds, fails terminally, or the attempt
// ceiling is reached. Rate-limit responses wait for the server hint when one
// was provided; otherwise the delay doubles per attempt up to the cap.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := c.baseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return err
		}
		if attempt >= c.maxAttempts {
			return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, attempt, err)
		}

		wait := delay
		if apiErr.Kind == KindRateLimited && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		if wait > c.maxDelay {
			wait = c.maxDelay
		}

		c.log.Warn(ctx, "upstream call failed, retrying",
			"op", op, "attempt", attempt, "kind", apiErr.Kind.String(), "wait", wait.String())

		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		delay *= 2
	}
}

// ExchangeToken posts the OAuth2 refresh grant and returns the short-lived
// access token. A permanent grant rejection is reported as KindInvalidGrant
// and never retried; throttle and transient failures follow the retry policy.
func (c *Client) ExchangeToken(ctx context.Context, refreshToken, clientID string) (*Token, error) {
	form := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {defaultScope},
	}

	var token *Token
	err := c.withRetry(ctx, "exchange token", func(ctx context.Context) error {
		t, err := c.postTokenForm(ctx, form)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

func (c *Client) postTokenForm(ctx context.Context, form url.Values) (*Token, error) {
	body, status, err := c.roundTrip(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()), "", func(h http.Header) {
		h.Set("Content-Type", "application/x-www-form-urlencoded")
	})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyTokenResponse(status, body.header, body.data)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body.data, &payload); err != nil {
		return nil, &APIError{Kind: KindTransient, StatusCode: status, Message: "malformed token response"}
	}
	if payload.AccessToken == "" {
		return nil, &APIError{Kind: KindTransient, StatusCode: status, Message: "token response missing access_token"}
	}
	if payload.ExpiresIn <= 0 {
		payload.ExpiresIn = 3600
	}
	return &Token{AccessToken: payload.AccessToken, ExpiresIn: payload.ExpiresIn}, nil
}

type responseBody struct {
	data   []byte
	header http.Header
}

// roundTrip performs one HTTP attempt: rate-limiter wait, bounded timeout,
// request, full body read. Network failures and timeouts come back as
// KindTransient so the retry wrapper treats them uniformly.
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, reqBody io.Reader, bearer string, prepare func(http.Header)) (*responseBody, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, 0, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if prepare != nil {
		prepare(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Caller cancellation is not an upstream fault; a per-attempt
		// deadline is, and counts as transient.
		if errors.Is(err, context.Canceled) {
			return nil, 0, context.Canceled
		}
		return nil, 0, &APIError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return &responseBody{data: data, header: resp.Header}, resp.StatusCode, nil
}

// classifyTokenResponse maps a non-200 token-endpoint response. The endpoint
// speaks the OAuth2 error shape: {"error": "...", "error_description": "..."}.
func classifyTokenResponse(status int, header http.Header, body []byte) *APIError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := payload.ErrorDescription
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &APIError{
			Kind: KindRateLimited, StatusCode: status, Code: payload.Error,
			Message: msg, RetryAfter: retryAfterHint(header),
		}
	case status >= 500:
		return &APIError{Kind: KindTransient, StatusCode: status, Code: payload.Error, Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		// The grant itself was rejected (invalid_grant, unauthorized_client,
		// invalid_client, ...). Permanent for this refresh token.
		return &APIError{Kind: KindInvalidGrant, StatusCode: status, Code: payload.Error, Message: msg}
	default:
		return &APIError{Kind: KindPermanent, StatusCode: status, Code: payload.Error, Message: msg}
	}
}

// classifyGraphResponse maps a non-2xx Graph response. Graph wraps errors as
// {"error": {"code": "...", "message": "..."}}.
func classifyGraphResponse(status int, header http.Header, body []byte) *APIError {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := payload.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return &APIError{Kind: KindAuthRejected, StatusCode: status, Code: payload.Error.Code, Message: msg}
	case status == http.StatusNotFound:
		return &APIError{Kind: KindNotFound, StatusCode: status, Code: payload.Error.Code, Message: msg}
	case status == http.StatusTooManyRequests:
		return &APIError{
			Kind: KindRateLimited, StatusCode: status, Code: payload.Error.Code,
			Message: msg, RetryAfter: retryAfterHint(header),
		}
	case status >= 500:
		return &APIError{Kind: KindTransient, StatusCode: status, Code: payload.Error.Code, Message: msg}
	default:
		return &APIError{Kind: KindPermanent, StatusCode: status, Code: payload.Error.Code, Message: msg}
	}
}

func retryAfterHint(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
