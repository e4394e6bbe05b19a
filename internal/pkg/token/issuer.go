package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
	"github.com/looplist/looplist/app/repository"
)

const (
	// DefaultSessionTTL bounds the lifetime of a session record (and with it
	// the refresh token) unless SESSION_TOKEN_TTL overrides it.
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultAccessTTL is how long clients may use an access token before
	// they are expected to refresh.
	DefaultAccessTTL = time.Hour
)

// ErrInvalidToken is returned by Verify when no live record matches the
// presented token. Store failures are returned as distinct errors so callers
// can answer 503 instead of 401.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrMintFailed wraps failures to generate or persist a new token pair.
var ErrMintFailed = errors.New("token mint failed")

// DeviceMeta carries per-device request metadata stored with each record.
type DeviceMeta struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Pair is a freshly minted plaintext token pair. The plaintext is never
// persisted; this struct is the only place it exists server-side.
type Pair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int    `json:"expiresIn"`
	RefreshExpiresIn int    `json:"refreshExpiresIn"`
	TokenType        string `json:"tokenType"`
}

// Issuer mints, verifies, rotates and revokes opaque session tokens backed
// by the session token repository.
type Issuer struct {
	tokens     repository.SessionTokenRepository
	sessionTTL time.Duration
	accessTTL  time.Duration
}

// NewIssuer creates an issuer with the given policy TTLs. Zero durations
// fall back to the defaults.
func NewIssuer(tokens repository.SessionTokenRepository, sessionTTL, accessTTL time.Duration) *Issuer {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &Issuer{tokens: tokens, sessionTTL: sessionTTL, accessTTL: accessTTL}
}

// Mint generates an independent random access/refresh token pair, persists
// their hashes with the device metadata and returns the plaintext pair.
func (i *Issuer) Mint(userID uint, meta DeviceMeta) (*Pair, *models.SessionToken, error) {
	access, err := models.NewAccessToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	refresh, err := models.NewRefreshToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}

	// Sessions minted without a client-supplied device id still need a
	// stable handle for per-device revocation.
	if meta.DeviceID == "" {
		meta.DeviceID = uuid.NewString()
	}

	record := &models.SessionToken{
		UserID:           userID,
		AccessTokenHash:  models.HashToken(access),
		RefreshTokenHash: models.HashToken(refresh),
		TokenType:        models.TOKEN_TYPE_BEARER,
		ExpiresAt:        time.Now().Add(i.sessionTTL),
		DeviceID:         meta.DeviceID,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}
	if err := i.tokens.Create(record); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}

	return i.pair(access, refresh), record, nil
}

// Verify hashes the presented access token and resolves it to a live session
// record. A missing or expired record yields ErrInvalidToken; any other
// error means the store is unreachable.
func (i *Issuer) Verify(accessToken string) (*models.SessionToken, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	record, err := i.tokens.GetByAccessTokenHash(models.HashToken(accessToken))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	if record.IsExpired() {
		return nil, ErrInvalidToken
	}
	return record, nil
}

// VerifyRefresh resolves a refresh token to its live session record.
func (i *Issuer) VerifyRefresh(refreshToken string) (*models.SessionToken, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	record, err := i.tokens.GetByRefreshTokenHash(models.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("token lookup: %w", err)
	}
	if record.IsExpired() {
		return nil, ErrInvalidToken
	}
	return record, nil
}

// Rotate replaces the old record with a freshly minted one in a single
// transaction, so a used refresh token can never be replayed.
func (i *Issuer) Rotate(old *models.SessionToken, meta DeviceMeta) (*Pair, *models.SessionToken, error) {
	access, err := models.NewAccessToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	refresh, err := models.NewRefreshToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}

	if meta.DeviceID == "" {
		meta.DeviceID = old.DeviceID
	}
	replacement := &models.SessionToken{
		UserID:           old.UserID,
		AccessTokenHash:  models.HashToken(access),
		RefreshTokenHash: models.HashToken(refresh),
		TokenType:        models.TOKEN_TYPE_BEARER,
		ExpiresAt:        time.Now().Add(i.sessionTTL),
		DeviceID:         meta.DeviceID,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}
	if err := i.tokens.Rotate(old.ID, replacement); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}

	return i.pair(access, refresh), replacement, nil
}

// Sessions lists the live session records for a user, one per device.
func (i *Issuer) Sessions(userID uint) ([]models.SessionToken, error) {
	return i.tokens.GetByUserID(userID)
}

// Revoke deletes a single session record (logout of one device).
func (i *Issuer) Revoke(id uint) error {
	return i.tokens.Delete(id)
}

// RevokeAll deletes every session record for the user (logout of all devices).
func (i *Issuer) RevokeAll(userID uint) (int64, error) {
	return i.tokens.DeleteByUserID(userID)
}

// CleanupExpired removes records whose session window has passed.
func (i *Issuer) CleanupExpired() (int64, error) {
	return i.tokens.DeleteExpired(time.Now())
}

func (i *Issuer) pair(access, refresh string) *Pair {
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int(i.accessTTL.Seconds()),
		RefreshExpiresIn: int(i.sessionTTL.Seconds()),
		TokenType:        models.TOKEN_TYPE_BEARER,
	}
}
