package oauth

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplist/looplist/internal/pkg/cache"
)

func setupTestCache(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	cache.SetClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return mr
}

func TestStateStoreIssueAndConsume(t *testing.T) {
	setupTestCache(t)
	store := NewStateStore()

	bindID, err := NewBindingID()
	require.NoError(t, err)

	state, err := store.Issue(bindID)
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	got, err := store.Consume(state)
	require.NoError(t, err)
	assert.Equal(t, bindID, got)
}

func TestStateStoreConsumeIsSingleUse(t *testing.T) {
	setupTestCache(t)
	store := NewStateStore()

	state, err := store.Issue("bind-1")
	require.NoError(t, err)

	_, err = store.Consume(state)
	require.NoError(t, err)

	// The second presentation of the same state must fail no matter how the
	// first one went.
	_, err = store.Consume(state)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestStateStoreConsumeUnknownState(t *testing.T) {
	setupTestCache(t)
	store := NewStateStore()

	_, err := store.Consume("never-issued")
	assert.ErrorIs(t, err, ErrStateNotFound)

	_, err = store.Consume("")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestStateStoreExpiry(t *testing.T) {
	mr := setupTestCache(t)
	store := NewStateStore()

	state, err := store.Issue("bind-2")
	require.NoError(t, err)

	mr.FastForward(StateTTL + time.Minute)

	_, err = store.Consume(state)
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestStateValuesAreUnique(t *testing.T) {
	setupTestCache(t)
	store := NewStateStore()

	a, err := store.Issue("x")
	require.NoError(t, err)
	b, err := store.Issue("x")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
