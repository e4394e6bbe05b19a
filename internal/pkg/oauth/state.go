package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/looplist/looplist/internal/pkg/cache"
)

// StateTTL bounds how long a login may sit on the provider's consent screen.
const StateTTL = 10 * time.Minute

const statePrefix = "oauth:state:"

// ErrStateNotFound is returned when a state value is unknown, expired or
// already consumed.
var ErrStateNotFound = errors.New("oauth state not found")

// StateStore keeps single-use CSRF state values in Redis. Each value is
// bound to the browser that initiated the login via a random session id the
// caller stores in a cookie.
type StateStore struct{}

func NewStateStore() *StateStore {
	return &StateStore{}
}

// Issue generates a new high-entropy state bound to sessionID.
func (s *StateStore) Issue(sessionID string) (string, error) {
	state, err := randomValue()
	if err != nil {
		return "", err
	}
	if err := cache.Set(statePrefix+state, sessionID, StateTTL); err != nil {
		return "", fmt.Errorf("persist oauth state: %w", err)
	}
	return state, nil
}

// Consume deletes the state and returns the session id it was bound to.
// A state validates at most once; the second call fails with
// ErrStateNotFound no matter how the first one went.
func (s *StateStore) Consume(state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}
	sessionID, err := cache.GetDel(statePrefix + state)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStateNotFound
		}
		return "", fmt.Errorf("consume oauth state: %w", err)
	}
	return sessionID, nil
}

// NewBindingID generates the random id stored in the pre-login cookie.
func NewBindingID() (string, error) {
	return randomValue()
}

// randomValue returns 32 bytes of entropy, URL-safe encoded.
func randomValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
