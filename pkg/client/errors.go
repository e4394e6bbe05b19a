package client

import "errors"

// Failure taxonomy for authenticated calls. Handlers in the extension UI
// branch on these to decide between a re-login prompt and a plain retry.
var (
	// ErrNotAuthenticated means there is no vault entry at all.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshTokenExpired means the cached refresh token's expiry passed;
	// the vault has been cleared and the user must log in again.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrRefreshRejected means the server refused the refresh token (already
	// rotated or revoked); the vault has been cleared.
	ErrRefreshRejected = errors.New("refresh rejected by server")
	// ErrAuthFailed is a definitive 401 on a normal call; the vault has been
	// cleared so the caller observes a logged-out state immediately.
	ErrAuthFailed = errors.New("authentication failed, please login again")
)

// TransientError marks failures that are worth retrying and must never force
// a logout: network errors, timeouts, 5xx and 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
