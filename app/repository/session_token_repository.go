package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
)

// sessionTokenRepository implements the SessionTokenRepository interface
type sessionTokenRepository struct {
	db *gorm.DB
}

// NewSessionTokenRepository creates a new session token repository instance
func NewSessionTokenRepository(db *gorm.DB) SessionTokenRepository {
	return &sessionTokenRepository{db: db}
}

// Create inserts a new session token record. The unique indexes on the hash
// columns reject colliding inserts.
func (r *sessionTokenRepository) Create(token *models.SessionToken) error {
	return r.db.Create(token).Error
}

// GetByAccessTokenHash retrieves a record by its access token hash
func (r *sessionTokenRepository) GetByAccessTokenHash(hash string) (*models.SessionToken, error) {
	var token models.SessionToken
	err := r.db.Where("access_token_hash = ?", hash).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetByRefreshTokenHash retrieves a record by its refresh token hash
func (r *sessionTokenRepository) GetByRefreshTokenHash(hash string) (*models.SessionToken, error) {
	var token models.SessionToken
	err := r.db.Where("refresh_token_hash = ?", hash).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetByUserID returns all session records for a user (one per device)
func (r *sessionTokenRepository) GetByUserID(userID uint) ([]models.SessionToken, error) {
	var tokens []models.SessionToken
	err := r.db.Where("user_id = ?", userID).Order("created_at desc").Find(&tokens).Error
	return tokens, err
}

// Rotate replaces an old record with a new one in a single transaction.
// Insert-then-delete ordering keeps at least one valid record at all times.
func (r *sessionTokenRepository) Rotate(oldID uint, replacement *models.SessionToken) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(replacement).Error; err != nil {
			return err
		}
		return tx.Delete(&models.SessionToken{}, oldID).Error
	})
}

// Delete removes a single session token record
func (r *sessionTokenRepository) Delete(id uint) error {
	return r.db.Delete(&models.SessionToken{}, id).Error
}

// DeleteByUserID removes every session token record for a user (logout-all)
func (r *sessionTokenRepository) DeleteByUserID(userID uint) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&models.SessionToken{})
	return res.RowsAffected, res.Error
}

// DeleteExpired removes records whose expiry is before the given time
func (r *sessionTokenRepository) DeleteExpired(before time.Time) (int64, error) {
	res := r.db.Where("expires_at < ?", before).Delete(&models.SessionToken{})
	return res.RowsAffected, res.Error
}
