package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"time"
)

const (
	TOKEN_TYPE_BEARER = "bearer"

	accessTokenPrefix  = "llt_"
	refreshTokenPrefix = "llr_"
)

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// SessionToken stores one opaque token pair for a device. Only the SHA-256
// hashes of the tokens are persisted; the plaintext exists exactly once, in
// the mint/rotate response.
type SessionToken struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"index" json:"user_id"`
	AccessTokenHash  string    `gorm:"type:char(64);uniqueIndex" json:"-"`
	RefreshTokenHash string    `gorm:"type:char(64);uniqueIndex" json:"-"`
	TokenType        string    `gorm:"type:varchar(20);default:'bearer'" json:"token_type"`
	ExpiresAt        time.Time `gorm:"index" json:"expires_at"`
	DeviceID         string    `gorm:"type:varchar(100);default:''" json:"device_id"`
	IPAddress        string    `gorm:"type:varchar(45);default:''" json:"-"`
	UserAgent        string    `gorm:"type:varchar(255);default:''" json:"-"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the record is past its expiry.
func (st *SessionToken) IsExpired() bool {
	return !time.Now().Before(st.ExpiresAt)
}

// HashToken returns the SHA-256 hash for the provided token plaintext.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewAccessToken generates a random opaque access token (32 bytes entropy).
func NewAccessToken() (string, error) {
	return newToken(accessTokenPrefix)
}

// NewRefreshToken generates a random opaque refresh token (32 bytes entropy).
func NewRefreshToken() (string, error) {
	return newToken(refreshTokenPrefix)
}

func newToken(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + tokenEncoding.EncodeToString(buf), nil
}
