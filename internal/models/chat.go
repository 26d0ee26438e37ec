package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a one-to-one conversation. Participant1 always holds the
// lexicographically smaller id so that exactly one row exists per pair.
type Conversation struct {
	ID            string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Participant1  string     `gorm:"column:participant_1;type:varchar(36);not null;uniqueIndex:idx_conversation_pair" json:"participant_1"`
	Participant2  string     `gorm:"column:participant_2;type:varchar(36);not null;uniqueIndex:idx_conversation_pair;index" json:"participant_2"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Key returns the cache key of the conversation.
func (c Conversation) Key() string { return c.ID }

// BeforeCreate assigns an id when the caller did not.
func (c *Conversation) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// OtherParticipant returns the participant that is not me.
func (c Conversation) OtherParticipant(me string) (string, error) {
	switch me {
	case c.Participant1:
		return c.Participant2, nil
	case c.Participant2:
		return c.Participant1, nil
	}
	return "", NewForbiddenError("not a participant of this conversation")
}

// HasParticipant reports whether id is one of the two participants.
func (c Conversation) HasParticipant(id string) bool {
	return id != "" && (c.Participant1 == id || c.Participant2 == id)
}

// ActivityAt is the timestamp used to order the inbox.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Message is append-only from the client's perspective. IsRead only ever
// moves from false to true.
type Message struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string     `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	SenderID       string     `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	Text           string     `gorm:"type:text" json:"text"`
	ImageURLs      StringList `gorm:"type:text" json:"image_urls"`
	IsRead         bool       `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}

// Key returns the cache key of the message.
func (m Message) Key() string { return m.ID }

// BeforeCreate assigns an id when the caller did not.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Validate rejects messages with neither text nor images.
func (m Message) Validate() error {
	if m.Text == "" && len(m.ImageURLs) == 0 {
		return NewValidationError("message must contain text or at least one image")
	}
	return nil
}
