package repository

import (
	"gorm.io/gorm"

	"github.com/looplist/looplist/app/models"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByExternalID retrieves an active user by their provider user id
func (r *userRepository) GetByExternalID(externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByExternalIDUnscoped retrieves a user by provider user id including
// soft-deleted records.
func (r *userRepository) GetByExternalIDUnscoped(externalID string) (*models.User, error) {
	var user models.User
	err := r.db.Unscoped().Where("external_id = ?", externalID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update persists changes to an existing user
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// Restore clears the soft-delete marker so the user can log in again
func (r *userRepository) Restore(id uint) error {
	return r.db.Unscoped().Model(&models.User{}).Where("id = ?", id).Update("deleted_at", nil).Error
}

// SoftDelete marks the user as deleted without removing the row
func (r *userRepository) SoftDelete(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

// Count returns the total number of active users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
