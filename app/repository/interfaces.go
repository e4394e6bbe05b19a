package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
)

// UserRepository defines the interface for identity-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	// GetByExternalIDUnscoped also returns soft-deleted users so a returning
	// login can restore them.
	GetByExternalIDUnscoped(externalID string) (*models.User, error)
	Update(user *models.User) error
	Restore(id uint) error
	SoftDelete(id uint) error
	Count() (int64, error)
}

// SessionTokenRepository defines the interface for opaque session token records
type SessionTokenRepository interface {
	Create(token *models.SessionToken) error
	GetByAccessTokenHash(hash string) (*models.SessionToken, error)
	GetByRefreshTokenHash(hash string) (*models.SessionToken, error)
	GetByUserID(userID uint) ([]models.SessionToken, error)
	// Rotate inserts the replacement record and deletes the old one in a
	// single transaction so there is no window with zero valid records.
	Rotate(oldID uint, replacement *models.SessionToken) error
	Delete(id uint) error
	DeleteByUserID(userID uint) (int64, error)
	DeleteExpired(before time.Time) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	SessionToken SessionTokenRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		SessionToken: NewSessionTokenRepository(db),
	}
}
