package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/looplist/looplist/internal/pkg/constants"
)

// RefreshCoordinator decides before each authenticated call whether the
// vault's access token must be refreshed, and drives the refresh exchange.
// Concurrent callers that observe the same expiry are coalesced into a
// single refresh call via singleflight, so a rotation is never raced
// against itself.
type RefreshCoordinator struct {
	vault      *Vault
	refreshURL string
	httpClient *http.Client
	group      singleflight.Group
}

// NewRefreshCoordinator builds a coordinator for the given vault and backend
// base URL.
func NewRefreshCoordinator(vault *Vault, baseURL string, httpClient *http.Client) *RefreshCoordinator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &RefreshCoordinator{
		vault:      vault,
		refreshURL: baseURL + constants.RouteAuthRefresh,
		httpClient: httpClient,
	}
}

// refreshResponse is the rotated pair returned by the backend. A missing
// refreshToken means the server did not rotate the refresh credential.
type refreshResponse struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int    `json:"expiresIn"`
	RefreshExpiresIn int    `json:"refreshExpiresIn"`
}

// EnsureFresh runs the pre-flight decision tree:
//   - no vault entry: ErrNotAuthenticated
//   - refresh token expired: clear vault, ErrRefreshTokenExpired
//   - access expired, refresh valid: perform the refresh exchange
//   - access still valid: no-op
func (r *RefreshCoordinator) EnsureFresh(ctx context.Context) error {
	entry, err := r.vault.Read()
	if err != nil {
		return &TransientError{Err: err}
	}
	if entry == nil {
		return ErrNotAuthenticated
	}

	if r.vault.IsRefreshExpired() {
		// Definitive: the session cannot be recovered without a new login.
		if clearErr := r.vault.Clear(); clearErr != nil {
			return &TransientError{Err: clearErr}
		}
		return ErrRefreshTokenExpired
	}

	if !r.vault.IsAccessExpired() {
		return nil
	}

	// All concurrent callers for this vault await the same in-flight refresh.
	_, err, _ = r.group.Do(r.vault.Identity(), func() (interface{}, error) {
		// Re-check under the flight: a refresh that just completed already
		// renewed the access token for everyone who queued behind it.
		if !r.vault.IsAccessExpired() {
			return nil, nil
		}
		return nil, r.refresh(ctx)
	})
	return err
}

// refresh performs one rotation round-trip. The refresh token travels in the
// request body, not as a bearer header.
func (r *RefreshCoordinator) refresh(ctx context.Context) error {
	refreshToken, err := r.vault.RefreshToken()
	if err != nil {
		return &TransientError{Err: err}
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return &TransientError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return &TransientError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// Ambiguous network failure: leave the vault untouched.
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The refresh token is invalid server-side (already rotated or
		// revoked). Only this outcome forces a logout.
		if clearErr := r.vault.Clear(); clearErr != nil {
			return &TransientError{Err: clearErr}
		}
		return ErrRefreshRejected
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &TransientError{Err: fmt.Errorf("refresh failed: status=%d", resp.StatusCode)}
	}

	var rotated refreshResponse
	if err := json.Unmarshal(body, &rotated); err != nil {
		return &TransientError{Err: fmt.Errorf("refresh response: %w", err)}
	}
	if rotated.AccessToken == "" {
		return &TransientError{Err: fmt.Errorf("refresh response missing accessToken")}
	}

	if err := r.vault.UpdateAccess(rotated.AccessToken, rotated.ExpiresIn); err != nil {
		return &TransientError{Err: err}
	}
	if rotated.RefreshToken != "" {
		if err := r.vault.UpdateRefresh(rotated.RefreshToken, rotated.RefreshExpiresIn); err != nil {
			return &TransientError{Err: err}
		}
	}
	return nil
}
