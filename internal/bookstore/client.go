// Package bookstore is a thin client for the bookstore account API.
//
// The client is configured explicitly with its base address; there is no
// process-wide default. Each call returns the decoded value together with the
// raw Response so callers can assert on status codes and bodies.
package bookstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	pkglog "github.com/theroutercompany/bookstore_e2e/pkg/log"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "bookstore-e2e"
	maxBodyBytes     = 1 << 20
)

// Endpoint names one of the account API operations.
type Endpoint string

const (
	EndpointCreateUser    Endpoint = "create_user"
	EndpointAuthorized    Endpoint = "authorized"
	EndpointGenerateToken Endpoint = "generate_token"
)

// Path returns the request path of the endpoint.
func (e Endpoint) Path() string {
	switch e {
	case EndpointCreateUser:
		return "/Account/v1/User"
	case EndpointAuthorized:
		return "/Account/v1/Authorized"
	case EndpointGenerateToken:
		return "/Account/v1/GenerateToken"
	default:
		return ""
	}
}

// Config describes where and how the client talks to the service.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// RateLimit is the sustained number of calls per second. Zero disables
	// throttling.
	RateLimit float64
	Burst     int
}

// RequestObserver receives per-call latency samples.
type RequestObserver interface {
	ObserveRequest(endpoint, status string, seconds float64)
}

// Option customises a Client.
type Option func(*Client)

// WithObserver reports call latency to the given observer.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// Client issues calls against the bookstore account API.
type Client struct {
	baseURL   *url.URL
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	observer  RequestObserver
	logger    *zap.SugaredLogger
}

// Response is the raw outcome of a call.
type Response struct {
	Endpoint   Endpoint
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
	RequestID  string
}

// StatusError reports a response whose status the typed helpers do not accept.
type StatusError struct {
	Endpoint   Endpoint
	StatusCode int
	Body       ErrorResponse
	Raw        []byte
}

func (e *StatusError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s (code %s)", e.Endpoint, e.StatusCode, e.Body.Message, e.Body.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// New constructs a Client from configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("bookstore base URL not configured")
	}
	parsed, err := url.ParseRequestURI(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}

	c := &Client{
		baseURL:   parsed,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout, Jar: jar},
		logger:    pkglog.Named("bookstore"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the configured base address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Post sends body as JSON to the endpoint and returns the raw response. Any
// HTTP status is returned without error; only transport failures error.
func (c *Client) Post(ctx context.Context, endpoint Endpoint, body any) (*Response, error) {
	path := endpoint.Path()
	if path == "" {
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: wait for rate limiter: %w", endpoint, err)
		}
	}

	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.observe(endpoint, "error", latency)
		c.logger.Warnw("bookstore request failed", "endpoint", endpoint, "requestId", requestID, "error", err)
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(endpoint, "error", latency)
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	c.observe(endpoint, strconv.Itoa(resp.StatusCode), latency)
	c.logger.Debugw("bookstore request completed",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"latencyMs", latency.Milliseconds(),
		"requestId", requestID,
	)

	return &Response{
		Endpoint:   endpoint,
		Method:     http.MethodPost,
		Path:       path,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		Latency:    latency,
		RequestID:  requestID,
	}, nil
}

// CreateUser registers a new user. Statuses other than 201 yield a *StatusError.
func (c *Client) CreateUser(ctx context.Context, user UserRequest) (UserResponse, *Response, error) {
	var out UserResponse
	resp, err := c.Post(ctx, EndpointCreateUser, user)
	if err != nil {
		return out, nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return out, resp, newStatusError(resp)
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, resp, fmt.Errorf("decode %s response: %w", EndpointCreateUser, err)
	}
	return out, resp, nil
}

// Authorized reports whether the credentials currently hold a token.
func (c *Client) Authorized(ctx context.Context, user UserRequest) (bool, *Response, error) {
	resp, err := c.Post(ctx, EndpointAuthorized, user)
	if err != nil {
		return false, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, resp, newStatusError(resp)
	}
	var out bool
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return false, resp, fmt.Errorf("decode %s response: %w", EndpointAuthorized, err)
	}
	return out, resp, nil
}

// GenerateToken requests a token for the credentials. Statuses other than 200
// yield a *StatusError.
func (c *Client) GenerateToken(ctx context.Context, user UserRequest) (TokenResponse, *Response, error) {
	var out TokenResponse
	resp, err := c.Post(ctx, EndpointGenerateToken, user)
	if err != nil {
		return out, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return out, resp, newStatusError(resp)
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, resp, fmt.Errorf("decode %s response: %w", EndpointGenerateToken, err)
	}
	return out, resp, nil
}

// DecodeStrict decodes data into v, rejecting unknown fields and trailing
// content.
func DecodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("unexpected trailing data after JSON value")
	}
	return nil
}

func (c *Client) observe(endpoint Endpoint, status string, latency time.Duration) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveRequest(string(endpoint), status, latency.Seconds())
}

func newStatusError(resp *Response) *StatusError {
	se := &StatusError{
		Endpoint:   resp.Endpoint,
		StatusCode: resp.StatusCode,
		Raw:        resp.Body,
	}
	_ = json.Unmarshal(resp.Body, &se.Body)
	return se
}
