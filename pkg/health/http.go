package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP endpoint such as the snapshot service
type HTTPChecker struct {
	URL     string
	Headers map[string]string

	// ExpectedStatusMin and ExpectedStatusMax bound acceptable status codes
	ExpectedStatusMin int
	ExpectedStatusMax int

	Client *http.Client
}

// NewHTTPChecker creates an HTTP checker accepting 2xx and 3xx
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check performs the HTTP health check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...any) Result {
		return Result{
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithBearer authenticates probes with token
func (h *HTTPChecker) WithBearer(token string) *HTTPChecker {
	if token != "" {
		h.Headers["Authorization"] = "Bearer " + token
	}
	return h
}

// WithStatusRange sets the expected status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}
