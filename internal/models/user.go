// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the external identity referenced by every other entity.
// Follower and following counts are re-derived by the store on every follow write.
type User struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username       string    `gorm:"size:64;uniqueIndex;not null" json:"username"`
	DisplayName    string    `gorm:"size:120" json:"display_name"`
	AvatarURL      string    `json:"avatar_url"`
	FollowerCount  int       `gorm:"not null;default:0" json:"follower_count"`
	FollowingCount int       `gorm:"not null;default:0" json:"following_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key returns the cache key of the user.
func (u User) Key() string { return u.ID }

// BeforeCreate assigns an id when the caller did not.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
