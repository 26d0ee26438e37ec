package repository

import (
	"context"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/canonical"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// ChatRepository defines the interface for one-to-one conversations and messages.
type ChatRepository interface {
	// FindConversation looks a conversation up by its canonical pair.
	FindConversation(ctx context.Context, pair canonical.Pair) (*models.Conversation, error)
	// CreateConversation inserts conv, whose participants must already be
	// in canonical order. A concurrent create for the same pair fails with
	// a uniqueness violation.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ConversationsFor(ctx context.Context, userID string) ([]models.Conversation, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// InboxMessages returns, for every conversation of userID, the latest
	// message plus every unread message userID did not send.
	InboxMessages(ctx context.Context, userID string) ([]models.Message, error)
	// MarkRead flips is_read on every unread message of the conversation
	// not sent by readerID and returns how many rows it touched.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

type chatRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *gorm.DB, pub Publisher, c *cache.Cache) ChatRepository {
	return &chatRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TableConvos)}
}

func (r *chatRepository) FindConversation(ctx context.Context, pair canonical.Pair) (*models.Conversation, error) {
	var id string
	if found, err := r.cache.GetJSON(ctx, cache.ConversationKey(pair.Lo, pair.Hi), &id); err == nil && found {
		if conv, err := r.GetConversation(ctx, id); err == nil {
			return conv, nil
		}
	}

	defer observability.TrackQuery("get", models.TableConvos)()
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_1 = ? AND participant_2 = ?", pair.Lo, pair.Hi).
		First(&conv).Error
	if err != nil {
		return nil, notFound(err, "Conversation", pair.Key())
	}
	_ = r.cache.SetJSON(ctx, cache.ConversationKey(pair.Lo, pair.Hi), conv.ID, cache.ConversationTTL)
	return &conv, nil
}

func (r *chatRepository) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	pair, err := canonical.Resolve(conv.Participant1, conv.Participant2)
	if err != nil {
		return err
	}
	if pair.Lo != conv.Participant1 {
		return models.NewMalformedError("conversation participants are not in canonical order", models.ErrSelfRelationship)
	}
	defer observability.TrackQuery("create", models.TableConvos)()
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": conv.ID, "pair": pair.Key()})
	publish(ctx, r.pub, changeSet{{table: models.TableConvos, op: models.ChangeInsert, row: *conv, scopes: conversationScopes(*conv)}})
	return nil
}

func (r *chatRepository) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	defer observability.TrackQuery("get", models.TableConvos)()
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *chatRepository) ConversationsFor(ctx context.Context, userID string) ([]models.Conversation, error) {
	defer observability.TrackQuery("list", models.TableConvos)()
	var out []models.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_1 = ? OR participant_2 = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&out).Error
	return out, err
}

// CreateMessage appends msg and advances the conversation's last_message_at.
func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.IsRead = false

	defer observability.TrackQuery("create", models.TableMessages)()
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return notFound(err, "Conversation", msg.ConversationID)
		}
		if !conv.HasParticipant(msg.SenderID) {
			return models.NewForbiddenError("not a participant of this conversation")
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		cs.add(models.TableMessages, models.ChangeInsert, *msg, messageScopes(*msg, conv)...)

		res := tx.Model(&models.Conversation{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", conv.ID, msg.CreatedAt).
			Update("last_message_at", msg.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			if err := tx.First(&conv, "id = ?", conv.ID).Error; err != nil {
				return err
			}
			cs.add(models.TableConvos, models.ChangeUpdate, conv, conversationScopes(conv)...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": msg.ID, "conversation_id": msg.ConversationID})
	publish(ctx, r.pub, cs)
	return nil
}

// ListMessages returns the newest limit messages, oldest first.
func (r *chatRepository) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	defer observability.TrackQuery("list", models.TableMessages)()
	var out []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *chatRepository) InboxMessages(ctx context.Context, userID string) ([]models.Message, error) {
	defer observability.TrackQuery("list", models.TableMessages)()
	mine := r.db.Model(&models.Conversation{}).Select("id").
		Where("participant_1 = ? OR participant_2 = ?", userID, userID)
	var out []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id IN (?)", mine).
		Where("(sender_id <> ? AND is_read = ?) OR created_at = (SELECT MAX(m2.created_at) FROM messages m2 WHERE m2.conversation_id = messages.conversation_id)",
			userID, false).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *chatRepository) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	defer observability.TrackQuery("update", models.TableMessages)()
	var cs changeSet
	var touched int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			return notFound(err, "Conversation", conversationID)
		}
		if !conv.HasParticipant(readerID) {
			return models.NewForbiddenError("not a participant of this conversation")
		}

		var unread []models.Message
		if err := tx.Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
			Find(&unread).Error; err != nil {
			return err
		}
		if len(unread) == 0 {
			return nil
		}
		ids := make([]string, len(unread))
		for i := range unread {
			ids[i] = unread[i].ID
		}
		res := tx.Model(&models.Message{}).Where("id IN ? AND is_read = ?", ids, false).Update("is_read", true)
		if res.Error != nil {
			return res.Error
		}
		touched = res.RowsAffected
		for _, m := range unread {
			m.IsRead = true
			cs.add(models.TableMessages, models.ChangeUpdate, m, messageScopes(m, conv)...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if touched > 0 {
		r.log.LogUpdate(ctx, map[string]interface{}{"conversation_id": conversationID, "read": touched})
	}
	publish(ctx, r.pub, cs)
	return touched, nil
}
