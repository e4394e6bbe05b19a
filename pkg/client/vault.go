package client

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/looplist/looplist/app/models"
)

// DefaultRefreshWindow is the fallback refresh-token lifetime applied when a
// server response carries no refreshExpiresIn. The server value wins when
// present.
const DefaultRefreshWindow = 30 * 24 * time.Hour

// EncryptedBlob is one AEAD-sealed token with its absolute expiry. The key
// is stored next to the ciphertext: this only raises the bar against casual
// inspection of the vault file, it is not a confidentiality guarantee
// against code running with the same file access.
type EncryptedBlob struct {
	Value     string    `json:"value"`
	IV        string    `json:"iv"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VaultEntry is the single persisted record: both token blobs plus the
// cached identity snapshot.
type VaultEntry struct {
	AccessToken  EncryptedBlob  `json:"accessToken"`
	RefreshToken EncryptedBlob  `json:"refreshToken"`
	User         models.Profile `json:"user"`
}

// SessionTokens is the plaintext pair handed to Save after a login.
type SessionTokens struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int
	RefreshExpiresIn int
}

// Vault persists the encrypted token cache for one client process. It is
// exclusively owned by that process; no cross-process sharing is assumed.
type Vault struct {
	path string
	mu   sync.Mutex
}

// NewVault creates a vault backed by the given file path.
func NewVault(path string) *Vault {
	return &Vault{path: path}
}

// Identity keys single-flight refresh coalescing for this vault.
func (v *Vault) Identity() string {
	return v.path
}

// Encrypt seals plaintext with a fresh key and nonce per call and returns
// all three parts for storage.
func Encrypt(plaintext []byte) (ciphertext, nonce, key []byte, err error) {
	key = make([]byte, chacha20poly1305.KeySize)
	if _, err = rand.Read(key); err != nil {
		return nil, nil, nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, key, nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

// Save encrypts both tokens independently and writes the whole entry.
// The access expiry comes from the server's expiresIn; the refresh expiry
// uses the server value when present, the local policy window otherwise.
func (v *Vault) Save(tokens SessionTokens, profile models.Profile) error {
	access, err := sealBlob(tokens.AccessToken, time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}

	refreshWindow := DefaultRefreshWindow
	if tokens.RefreshExpiresIn > 0 {
		refreshWindow = time.Duration(tokens.RefreshExpiresIn) * time.Second
	}
	refresh, err := sealBlob(tokens.RefreshToken, time.Now().Add(refreshWindow))
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.write(&VaultEntry{
		AccessToken:  *access,
		RefreshToken: *refresh,
		User:         profile,
	})
}

// Read loads the entry, or nil when the vault is empty.
func (v *Vault) Read() (*VaultEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.read()
}

// AccessToken decrypts the stored access token.
func (v *Vault) AccessToken() (string, error) {
	entry, err := v.Read()
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", ErrNotAuthenticated
	}
	return openBlob(&entry.AccessToken)
}

// RefreshToken decrypts the stored refresh token.
func (v *Vault) RefreshToken() (string, error) {
	entry, err := v.Read()
	if err != nil {
		return "", err
	}
	if entry == nil {
		return "", ErrNotAuthenticated
	}
	return openBlob(&entry.RefreshToken)
}

// IsAccessExpired reports whether the stored access token expiry has passed.
// An empty vault counts as expired.
func (v *Vault) IsAccessExpired() bool {
	entry, err := v.Read()
	if err != nil || entry == nil {
		return true
	}
	return !time.Now().Before(entry.AccessToken.ExpiresAt)
}

// IsRefreshExpired reports whether the stored refresh token expiry has passed.
func (v *Vault) IsRefreshExpired() bool {
	entry, err := v.Read()
	if err != nil || entry == nil {
		return true
	}
	return !time.Now().Before(entry.RefreshToken.ExpiresAt)
}

// IsAuthenticated reports whether a vault entry exists.
func (v *Vault) IsAuthenticated() bool {
	entry, err := v.Read()
	return err == nil && entry != nil
}

// UpdateAccess replaces only the access-token portion in place; the refresh
// portion and the profile snapshot stay untouched.
func (v *Vault) UpdateAccess(plaintext string, expiresIn int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, err := v.read()
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotAuthenticated
	}

	access, err := sealBlob(plaintext, time.Now().Add(time.Duration(expiresIn)*time.Second))
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	entry.AccessToken = *access
	return v.write(entry)
}

// UpdateRefresh replaces the refresh-token portion after a server rotation
// that returned a new refresh token.
func (v *Vault) UpdateRefresh(plaintext string, expiresIn int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, err := v.read()
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotAuthenticated
	}

	window := DefaultRefreshWindow
	if expiresIn > 0 {
		window = time.Duration(expiresIn) * time.Second
	}
	refresh, err := sealBlob(plaintext, time.Now().Add(window))
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	entry.RefreshToken = *refresh
	return v.write(entry)
}

// Clear deletes the vault entry entirely.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err := os.Remove(v.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (v *Vault) read() (*VaultEntry, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var entry VaultEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt vault entry: %w", err)
	}
	return &entry, nil
}

func (v *Vault) write(entry *VaultEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(v.path, data, 0o600)
}

func sealBlob(plaintext string, expiresAt time.Time) (*EncryptedBlob, error) {
	ciphertext, nonce, key, err := Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}
	return &EncryptedBlob{
		Value:     base64.StdEncoding.EncodeToString(ciphertext),
		IV:        base64.StdEncoding.EncodeToString(nonce),
		Key:       base64.StdEncoding.EncodeToString(key),
		ExpiresAt: expiresAt,
	}, nil
}

func openBlob(blob *EncryptedBlob) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Value)
	if err != nil {
		return "", fmt.Errorf("corrupt vault entry: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return "", fmt.Errorf("corrupt vault entry: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(blob.Key)
	if err != nil {
		return "", fmt.Errorf("corrupt vault entry: %w", err)
	}
	plaintext, err := Decrypt(ciphertext, nonce, key)
	if err != nil {
		return "", fmt.Errorf("open vault blob: %w", err)
	}
	return string(plaintext), nil
}
