package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User is the application identity created from a provider profile.
// Soft-deleted users are restored on their next successful login.
type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ExternalID  string         `gorm:"uniqueIndex;type:varchar(191)" json:"-" validate:"required"`
	DisplayName string         `gorm:"type:varchar(150)" json:"display_name" validate:"required,min=1,max=150"`
	Email       string         `gorm:"type:varchar(200)" json:"email" validate:"omitempty,email,max=200"`
	AvatarURL   string         `gorm:"type:varchar(255);default:null" json:"avatar_url" validate:"max=255"`
	Status      string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// Profile is the snapshot of a user returned to clients and cached in the
// extension vault.
type Profile struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url"`
}

// ToProfile builds the client-facing snapshot of the user.
func (u *User) ToProfile() Profile {
	return Profile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
}
