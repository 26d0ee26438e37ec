package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Community is a named group of users. MemberCount is re-derived by the
// store from community_memberships.
type Community struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID     string    `gorm:"type:varchar(36);not null;index" json:"owner_id"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	Category    string    `gorm:"size:60;not null;index" json:"category"`
	Description string    `gorm:"type:text" json:"description"`
	MemberCount int       `gorm:"not null;default:0" json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Community) TableName() string {
	return "communities"
}

// Key returns the cache key of the community.
func (c Community) Key() string { return c.ID }

// BeforeCreate assigns an id when the caller did not.
func (c *Community) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
