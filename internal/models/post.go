package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostStatus controls whether a post is visible in the public feed.
type PostStatus string

const (
	// PostStatusPublished posts appear in the feed.
	PostStatusPublished PostStatus = "published"
	// PostStatusDraft posts are only visible to their author.
	PostStatusDraft PostStatus = "draft"
)

// Post represents a post in the feed.
type Post struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	AuthorID     string     `gorm:"type:varchar(36);not null;index" json:"author_id"`
	Title        string     `gorm:"not null" json:"title"`
	Description  *string    `json:"description,omitempty"`
	Content      *string    `gorm:"type:text" json:"content,omitempty"`
	MediaURLs    StringList `gorm:"type:text" json:"media_urls"`
	Tags         StringList `gorm:"type:text" json:"tags"`
	Status       PostStatus `gorm:"type:varchar(16);not null;default:'published';index" json:"status"`
	LikeCount    int        `gorm:"not null;default:0" json:"like_count"`
	CommentCount int        `gorm:"not null;default:0" json:"comment_count"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Key returns the cache key of the post.
func (p Post) Key() string { return p.ID }

// IsPublished reports whether the post belongs in the feed.
func (p Post) IsPublished() bool { return p.Status == "" || p.Status == PostStatusPublished }

// BeforeCreate assigns an id and default status.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PostStatusPublished
	}
	return nil
}
