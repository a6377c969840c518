package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrStreamNotFound is returned when the server has no snapshot for a stream
var ErrStreamNotFound = errors.New("snapshot stream not found")

// maxBody bounds the size of a snapshot response
const maxBody = 16 << 20

// Loader fetches the current snapshot envelopes of a stream
type Loader interface {
	LoadSnapshots(ctx context.Context, stream string) ([]json.RawMessage, error)
}

// Func adapts a function to Loader
type Func func(ctx context.Context, stream string) ([]json.RawMessage, error)

// LoadSnapshots calls f
func (f Func) LoadSnapshots(ctx context.Context, stream string) ([]json.RawMessage, error) {
	return f(ctx, stream)
}

// HTTP loads snapshots from GET {base}/snapshots/{stream}
type HTTP struct {
	// BaseURL is the snapshot service root, e.g. "https://api.example.com/v1"
	BaseURL string

	// Token is sent as a bearer token when set
	Token string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client

	logger zerolog.Logger
}

// NewHTTP creates a loader for base
func NewHTTP(base, token string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimRight(base, "/"),
		Token:   token,
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.WithComponent("loader"),
	}
}

// WithTimeout sets the HTTP client timeout
func (h *HTTP) WithTimeout(timeout time.Duration) *HTTP {
	h.Client.Timeout = timeout
	return h
}

// LoadSnapshots returns the JSON array of envelopes served for stream
func (h *HTTP) LoadSnapshots(ctx context.Context, stream string) ([]json.RawMessage, error) {
	endpoint := h.BaseURL + "/snapshots/" + url.PathEscape(stream)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, stream)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("snapshot %s: HTTP %d %s", stream, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", stream, err)
	}

	var envelopes []json.RawMessage
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", stream, err)
	}

	h.logger.Debug().
		Str("stream", stream).
		Int("envelopes", len(envelopes)).
		Dur("duration", time.Since(start)).
		Msg("snapshot loaded")
	return envelopes, nil
}
