package preflight

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Report captures the outcome of probing the service.
type Report struct {
	Target     string        `json:"target"`
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"statusCode,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checkedAt"`
}

// Checker verifies the bookstore answers before a suite run starts.
type Checker struct {
	client    *http.Client
	baseURL   string
	path      string
	timeout   time.Duration
	userAgent string
}

// NewChecker returns a checker probing path under baseURL.
func NewChecker(client *http.Client, baseURL, path string, timeout time.Duration, userAgent string) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if path == "" {
		path = "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if userAgent == "" {
		userAgent = "bookstore-e2e/preflight"
	}

	return &Checker{
		client:    client,
		baseURL:   baseURL,
		path:      path,
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Probe issues a GET against the target. Any status below 500 counts as
// reachable; the account endpoints themselves are not exercised.
func (c *Checker) Probe(ctx context.Context) Report {
	report := Report{CheckedAt: time.Now().UTC()}

	targetURL, err := url.JoinPath(c.baseURL, c.path)
	if err != nil {
		report.Error = fmt.Sprintf("failed to build target url: %v", err)
		return report
	}
	report.Target = targetURL

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		report.Error = fmt.Sprintf("failed to create request: %v", err)
		return report
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	report.Latency = time.Since(start)
	if err != nil {
		select {
		case <-reqCtx.Done():
			report.Error = reqCtx.Err().Error()
		default:
			report.Error = err.Error()
		}
		return report
	}
	defer resp.Body.Close()

	report.StatusCode = resp.StatusCode
	report.Reachable = resp.StatusCode < http.StatusInternalServerError
	if !report.Reachable {
		report.Error = fmt.Sprintf("preflight failed with status %d", resp.StatusCode)
	}

	return report
}
