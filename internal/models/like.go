package models

import "time"

// SubjectType identifies what a like points at.
type SubjectType string

const (
	SubjectPost    SubjectType = "post"
	SubjectComment SubjectType = "comment"
)

// Subject is the liked entity.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

// Like has the composite identity (subject_type, subject_id, user_id).
// The composite primary key is the uniqueness constraint that makes a
// duplicate like a benign no-op.
type Like struct {
	SubjectType SubjectType `gorm:"type:varchar(16);primaryKey" json:"subject_type"`
	SubjectID   string      `gorm:"type:varchar(36);primaryKey" json:"subject_id"`
	UserID      string      `gorm:"type:varchar(36);primaryKey;index" json:"user_id"`
	CreatedAt   time.Time   `json:"created_at"`
}

// LikeKey builds the cache key for a like.
func LikeKey(s Subject, userID string) string {
	return string(s.Type) + ":" + s.ID + ":" + userID
}

// Key returns the cache key of the like.
func (l Like) Key() string { return LikeKey(l.Subject(), l.UserID) }

// Subject returns the liked entity.
func (l Like) Subject() Subject { return Subject{Type: l.SubjectType, ID: l.SubjectID} }
