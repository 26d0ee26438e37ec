package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Comment on a post. A nil ParentCommentID marks a root comment; replies
// must reference a root.
type Comment struct {
	ID              string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PostID          string    `gorm:"type:varchar(36);not null;index" json:"post_id"`
	AuthorID        string    `gorm:"type:varchar(36);not null" json:"author_id"`
	ParentCommentID *string   `gorm:"type:varchar(36);index" json:"parent_comment_id"`
	Text            string    `gorm:"type:text;not null" json:"text"`
	LikeCount       int       `gorm:"not null;default:0" json:"like_count"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key returns the cache key of the comment.
func (c Comment) Key() string { return c.ID }

// IsRoot reports whether the comment is top level.
func (c Comment) IsRoot() bool { return c.ParentCommentID == nil || *c.ParentCommentID == "" }

// BeforeCreate assigns an id when the caller did not.
func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
