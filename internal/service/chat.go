package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"socialsync/internal/canonical"
	"socialsync/internal/idempotency"
	"socialsync/internal/inbox"
	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/reconcile"
	"socialsync/internal/validation"
)

// conversation returns a conversation I take part in.
func (s *Session) conversation(ctx context.Context, convID string) (models.Conversation, error) {
	if convID == "" {
		return models.Conversation{}, models.NewValidationError("conversation id is required")
	}
	if c, ok := s.inbox.Conversations().Get(convID); ok {
		return c, nil
	}
	c, err := s.deps.Chat.GetConversation(ctx, convID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !c.HasParticipant(s.me) {
		return models.Conversation{}, models.NewForbiddenError("not a participant of this conversation")
	}
	s.inbox.Conversations().Apply(reconcile.Insert(*c), reconcile.OriginRemote)
	return *c, nil
}

// GetOrCreateConversation returns the one conversation between me and
// other, creating it when needed. Argument order never matters and a
// concurrent create by the other participant resolves to the same row.
func (s *Session) GetOrCreateConversation(ctx context.Context, other string) (models.Conversation, error) {
	pair, err := canonical.Resolve(s.me, other)
	if err != nil {
		return models.Conversation{}, err
	}
	local := s.inbox.Conversations().Filter(func(c models.Conversation) bool { return canonical.Of(c) == pair })
	if len(local) > 0 {
		return local[0], nil
	}

	conv, err := s.deps.Chat.FindConversation(ctx, pair)
	switch {
	case err == nil:
	case models.IsNotFound(err):
		row := pair.Conversation()
		row.ID = uuid.NewString()
		row.CreatedAt = time.Now().UTC()
		outcome, err := s.guard.Insert(ctx, "create_conversation", func(ctx context.Context) error {
			return s.deps.Chat.CreateConversation(ctx, &row)
		})
		if err != nil {
			return models.Conversation{}, err
		}
		conv = &row
		if outcome == idempotency.AlreadyApplied {
			if conv, err = s.deps.Chat.FindConversation(ctx, pair); err != nil {
				return models.Conversation{}, err
			}
		}
	default:
		return models.Conversation{}, err
	}

	s.inbox.Conversations().Apply(reconcile.Insert(*conv), reconcile.OriginRemote)
	return *conv, nil
}

// SendMessage uploads attachments, shows the message at once and appends
// it remotely.
func (s *Session) SendMessage(ctx context.Context, convID, text string, attachments []Attachment) (models.Message, *optimistic.Pending, error) {
	if _, err := s.conversation(ctx, convID); err != nil {
		return models.Message{}, nil, err
	}
	text, err := validation.ValidateMessage(text, len(attachments))
	if err != nil {
		return models.Message{}, nil, models.NewValidationError(err.Error())
	}
	refs, err := s.upload(ctx, attachments)
	if err != nil {
		return models.Message{}, nil, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       s.me,
		Text:           text,
		ImageURLs:      refs,
		CreatedAt:      time.Now().UTC(),
	}
	steps := []optimistic.Step{s.inbox.PreviewStep(msg)}
	for _, w := range s.watchesOf(watchConversation, convID) {
		steps = append(steps, reconcile.Stage(w.messages, reconcile.Insert(msg)))
	}

	p := s.apply(ctx, optimistic.Mutation{
		Name:  "send_message",
		Steps: steps,
		Write: func(ctx context.Context) error {
			row := msg
			if err := s.deps.Chat.CreateMessage(ctx, &row); err != nil {
				s.discard(ctx, refs)
				return err
			}
			return nil
		},
	})
	return msg, p, nil
}

func setRead(read bool) func(models.Message) models.Message {
	return func(m models.Message) models.Message {
		m.IsRead = read
		return m
	}
}

// MarkAsRead clears the unread count of a conversation as one mutation.
// The local count drops to zero at once and stays there whatever the
// remote update touched.
func (s *Session) MarkAsRead(ctx context.Context, convID string) (*optimistic.Pending, error) {
	if _, err := s.conversation(ctx, convID); err != nil {
		return nil, err
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if p := s.tracker.InFlight(inbox.InboxCollection, convID); p != nil {
		return p, nil
	}

	steps := []optimistic.Step{s.inbox.MarkReadStep(convID)}
	unreadShown := 0
	for _, w := range s.watchesOf(watchConversation, convID) {
		for _, m := range w.messages.Filter(func(m models.Message) bool { return m.SenderID != s.me && !m.IsRead }) {
			steps = append(steps, reconcile.Stage(w.messages, reconcile.Patch(m.ID, setRead(true), setRead(false))))
			unreadShown++
		}
	}
	if s.inbox.Unread(convID) == 0 && unreadShown == 0 {
		return optimistic.Settled("mark_read", nil), nil
	}

	return s.apply(ctx, optimistic.Mutation{
		Name:  "mark_read",
		Steps: steps,
		Write: func(ctx context.Context) error {
			_, err := s.deps.Chat.MarkRead(ctx, convID, s.me)
			return err
		},
	}), nil
}
