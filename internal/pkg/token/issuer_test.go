package token

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
)

// fakeTokenRepo is an in-memory stand-in for the gorm-backed repository.
type fakeTokenRepo struct {
	mu      sync.Mutex
	nextID  uint
	records map[uint]*models.SessionToken
	failAll bool
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{records: map[uint]*models.SessionToken{}}
}

var errStoreDown = errors.New("store down")

func (f *fakeTokenRepo) Create(token *models.SessionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	f.nextID++
	token.ID = f.nextID
	cp := *token
	f.records[token.ID] = &cp
	return nil
}

func (f *fakeTokenRepo) GetByAccessTokenHash(hash string) (*models.SessionToken, error) {
	return f.findBy(func(r *models.SessionToken) bool { return r.AccessTokenHash == hash })
}

func (f *fakeTokenRepo) GetByRefreshTokenHash(hash string) (*models.SessionToken, error) {
	return f.findBy(func(r *models.SessionToken) bool { return r.RefreshTokenHash == hash })
}

func (f *fakeTokenRepo) findBy(match func(*models.SessionToken) bool) (*models.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errStoreDown
	}
	for _, r := range f.records {
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTokenRepo) GetByUserID(userID uint) ([]models.SessionToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SessionToken
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeTokenRepo) Rotate(oldID uint, replacement *models.SessionToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	f.nextID++
	replacement.ID = f.nextID
	cp := *replacement
	f.records[replacement.ID] = &cp
	delete(f.records, oldID)
	return nil
}

func (f *fakeTokenRepo) Delete(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errStoreDown
	}
	delete(f.records, id)
	return nil
}

func (f *fakeTokenRepo) DeleteByUserID(userID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.records {
		if r.UserID == userID {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) DeleteExpired(before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.records {
		if r.ExpiresAt.Before(before) {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestIssuerMintAndVerify(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, 0, 0)

	pair, record, err := issuer.Mint(7, DeviceMeta{DeviceID: "ext-1", IPAddress: "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, int(DefaultAccessTTL.Seconds()), pair.ExpiresIn)
	assert.Equal(t, int(DefaultSessionTTL.Seconds()), pair.RefreshExpiresIn)
	assert.Equal(t, models.TOKEN_TYPE_BEARER, pair.TokenType)

	// The plaintext never hits the store.
	assert.NotContains(t, []string{record.AccessTokenHash, record.RefreshTokenHash}, pair.AccessToken)

	got, err := issuer.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), got.UserID)
	assert.Equal(t, "ext-1", got.DeviceID)
}

func TestIssuerVerifyRejectsTamperedToken(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, 0, 0)

	pair, _, err := issuer.Mint(1, DeviceMeta{})
	require.NoError(t, err)

	tampered := []byte(pair.AccessToken)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	_, err = issuer.Verify(string(tampered))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuerVerifyExpiredSession(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, time.Millisecond, time.Millisecond)

	pair, _, err := issuer.Mint(1, DeviceMeta{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = issuer.Verify(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuerVerifyStoreFailureIsNotInvalidToken(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, 0, 0)

	pair, _, err := issuer.Mint(1, DeviceMeta{})
	require.NoError(t, err)

	repo.failAll = true
	_, err = issuer.Verify(pair.AccessToken)
	require.Error(t, err)
	// Store outages must stay distinguishable from dead credentials so the
	// middleware can answer 503 instead of 401.
	assert.False(t, errors.Is(err, ErrInvalidToken))
}

func TestIssuerRotateInvalidatesOldPair(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, 0, 0)

	pair, record, err := issuer.Mint(3, DeviceMeta{DeviceID: "ext-9"})
	require.NoError(t, err)

	rotated, replacement, err := issuer.Rotate(record, DeviceMeta{})
	require.NoError(t, err)

	assert.NotEqual(t, pair.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	// Device id carries over when the rotation request does not send one.
	assert.Equal(t, "ext-9", replacement.DeviceID)

	_, err = issuer.Verify(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.VerifyRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	got, err := issuer.VerifyRefresh(rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, uint(3), got.UserID)

	// Exactly one live record per device at all times.
	assert.Equal(t, 1, repo.count())
}

func TestIssuerRevokeAll(t *testing.T) {
	repo := newFakeTokenRepo()
	issuer := NewIssuer(repo, 0, 0)

	for i := 0; i < 3; i++ {
		_, _, err := issuer.Mint(5, DeviceMeta{})
		require.NoError(t, err)
	}
	otherPair, _, err := issuer.Mint(6, DeviceMeta{})
	require.NoError(t, err)

	n, err := issuer.RevokeAll(5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Other users keep their sessions.
	_, err = issuer.Verify(otherPair.AccessToken)
	assert.NoError(t, err)
}

func TestIssuerCleanupExpired(t *testing.T) {
	repo := newFakeTokenRepo()

	short := NewIssuer(repo, time.Millisecond, time.Millisecond)
	_, _, err := short.Mint(1, DeviceMeta{})
	require.NoError(t, err)

	long := NewIssuer(repo, time.Hour, time.Hour)
	keep, _, err := long.Mint(1, DeviceMeta{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := long.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = long.Verify(keep.AccessToken)
	assert.NoError(t, err)
}
