package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/looplist/looplist/internal/pkg/constants"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultRetryBase is the backoff base: delays are base * 2^attempt.
	DefaultRetryBase = time.Second
)

// CallOptions shape a single gateway call.
type CallOptions struct {
	Method      string
	Body        interface{}
	Headers     map[string]string
	RequireAuth bool
	// TransientOnly restricts retries to errors classified as transient
	// (network failure, timeout, 5xx, 429); everything else is returned
	// immediately. The default policy retries any error.
	TransientOnly bool
}

// APIError is a non-2xx response with its parsed human-readable message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d message=%q", e.StatusCode, e.Message)
}

// Gateway wraps outbound calls to the backend with auth attachment,
// retry/backoff and error classification.
type Gateway struct {
	baseURL    string
	vault      *Vault
	refresher  *RefreshCoordinator
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
}

// NewGateway builds a gateway for the backend at baseURL using the given
// vault. Pass nil for httpClient to get a sane default with timeouts.
func NewGateway(baseURL string, vault *Vault, httpClient *http.Client) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{
		baseURL:    baseURL,
		vault:      vault,
		refresher:  NewRefreshCoordinator(vault, baseURL, httpClient),
		httpClient: httpClient,
		maxRetries: DefaultMaxRetries,
		retryBase:  DefaultRetryBase,
	}
}

// WithRetryPolicy overrides the retry count and backoff base.
func (g *Gateway) WithRetryPolicy(maxRetries int, base time.Duration) *Gateway {
	g.maxRetries = maxRetries
	g.retryBase = base
	return g
}

// Refresher exposes the coordinator so callers can run the pre-flight check
// on its own.
func (g *Gateway) Refresher() *RefreshCoordinator {
	return g.refresher
}

// Call executes one backend call. For RequireAuth calls the refresh
// coordinator runs first and a failure there aborts before any network
// attempt. The attempt itself runs under the retry policy; a definitive 401
// clears the vault before the error is returned.
func (g *Gateway) Call(ctx context.Context, endpoint string, opts CallOptions) (json.RawMessage, error) {
	if opts.RequireAuth {
		if err := g.refresher.EnsureFresh(ctx); err != nil {
			return nil, err
		}
	}

	var result json.RawMessage
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.retryBase * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, &TransientError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		result, lastErr = g.attempt(ctx, endpoint, opts)
		if lastErr == nil {
			return result, nil
		}
		if !g.shouldRetry(lastErr, opts.TransientOnly) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// HealthCheck is a best-effort liveness probe. It swallows all errors and
// never retries.
func (g *Gateway) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+constants.RoutePing, nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (g *Gateway) attempt(ctx context.Context, endpoint string, opts CallOptions) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if opts.Body != nil {
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	if opts.RequireAuth {
		accessToken, err := g.vault.AccessToken()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if readErr != nil {
		return nil, &TransientError{Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.RawMessage(body), nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Definitive auth failure outside the refresh path: drop the vault
		// now so the caller observes a logged-out state immediately.
		_ = g.vault.Clear()
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, errorMessage(body, resp.Status))
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body, resp.Status)}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransientError{Err: apiErr}
	}
	return nil, apiErr
}

// shouldRetry applies the retry policy. The generic policy retries anything
// except definitive auth failures; the strict policy retries transient
// classifications only.
func (g *Gateway) shouldRetry(err error, transientOnly bool) bool {
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrNotAuthenticated) {
		return false
	}
	if transientOnly {
		if IsTransient(err) {
			return true
		}
		var netErr net.Error
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	return true
}

// errorMessage digs a human-readable message out of a JSON error body,
// falling back to the HTTP status text.
func errorMessage(body []byte, statusText string) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return statusText
}
