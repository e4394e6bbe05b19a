package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplist/looplist/internal/pkg/constants"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *Vault, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	v := newTestVault(t)
	g := NewGateway(server.URL, v, nil).WithRetryPolicy(DefaultMaxRetries, time.Millisecond)
	return g, v, &calls
}

func TestGatewayCallSuccess(t *testing.T) {
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	raw, err := g.Call(context.Background(), "/api/items", CallOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, int64(1), calls.Load())
}

func TestGatewayCallAttachesBearerToken(t *testing.T) {
	g, v, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer llt_access_plaintext", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, v.Save(testTokens(), testProfile()))

	_, err := g.Call(context.Background(), "/api/items", CallOptions{RequireAuth: true})
	require.NoError(t, err)
}

func TestGatewayCallRequireAuthWithoutSession(t *testing.T) {
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := g.Call(context.Background(), "/api/items", CallOptions{RequireAuth: true})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	// The pre-flight check failed, so no request went out.
	assert.Equal(t, int64(0), calls.Load())
}

func TestGatewayCallPostBody(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["title"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	})

	raw, err := g.Call(context.Background(), "/api/items", CallOptions{
		Method: http.MethodPost,
		Body:   map[string]string{"title": "hello"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(raw))
}

func TestGatewayRetriesServerErrors(t *testing.T) {
	var failures atomic.Int64
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	raw, err := g.Call(context.Background(), "/api/items", CallOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, int64(3), calls.Load())
}

func TestGatewayGivesUpAfterMaxRetries(t *testing.T) {
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	})

	_, err := g.Call(context.Background(), "/api/items", CallOptions{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)

	// First attempt plus DefaultMaxRetries retries.
	assert.Equal(t, int64(DefaultMaxRetries+1), calls.Load())
}

func TestGatewayUnauthorizedClearsVaultAndStops(t *testing.T) {
	g, v, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_or_expired"}`))
	})
	require.NoError(t, v.Save(testTokens(), testProfile()))

	_, err := g.Call(context.Background(), "/api/items", CallOptions{RequireAuth: true})
	assert.ErrorIs(t, err, ErrAuthFailed)
	// Definitive rejection: no retry, and the local session is gone.
	assert.Equal(t, int64(1), calls.Load())
	assert.False(t, v.IsAuthenticated())
}

func TestGatewayTransientOnlySkipsClientErrors(t *testing.T) {
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"validation failed"}`))
	})

	_, err := g.Call(context.Background(), "/api/items", CallOptions{TransientOnly: true})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestGatewayTransientOnlyRetriesRateLimit(t *testing.T) {
	var failures atomic.Int64
	g, _, calls := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	_, err := g.Call(context.Background(), "/api/items", CallOptions{TransientOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestGatewayContextCancellationStopsRetries(t *testing.T) {
	g, _, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	g.WithRetryPolicy(DefaultMaxRetries, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Call(ctx, "/api/items", CallOptions{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGatewayHealthCheck(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, constants.RoutePing, r.URL.Path)
		_, _ = w.Write([]byte(`{"message":"pong"}`))
	}))
	defer up.Close()

	g := NewGateway(up.URL, newTestVault(t), nil)
	assert.True(t, g.HealthCheck(context.Background()))

	down := NewGateway("http://127.0.0.1:1", newTestVault(t), &http.Client{Timeout: time.Second})
	assert.False(t, down.HealthCheck(context.Background()))
}

func TestErrorMessageParsing(t *testing.T) {
	assert.Equal(t, "boom", errorMessage([]byte(`{"message":"boom"}`), "500"))
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`), "500"))
	assert.Equal(t, "500", errorMessage([]byte(`not json`), "500"))
}
