package repository

import (
	"context"
	"testing"
	"time"

	"socialsync/internal/canonical"
	"socialsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(t *testing.T, r *repos, a, b string) models.Conversation {
	t.Helper()
	pair, err := canonical.Resolve(a, b)
	require.NoError(t, err)
	conv := pair.Conversation()
	require.NoError(t, r.chat.CreateConversation(context.Background(), &conv))
	return conv
}

func TestChatRepository_ConversationPair(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	a := r.user(t, "a")
	b := r.user(t, "b")

	conv := newConversation(t, r, a.ID, b.ID)

	for _, args := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		pair, err := canonical.Resolve(args[0], args[1])
		require.NoError(t, err)
		found, err := r.chat.FindConversation(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, found.ID)
	}

	pair, _ := canonical.Resolve(a.ID, b.ID)
	dup := pair.Conversation()
	err := r.chat.CreateConversation(ctx, &dup)
	assert.True(t, models.IsUniqueViolation(err), "second row for the same pair must be rejected")

	swapped := models.Conversation{Participant1: pair.Hi, Participant2: pair.Lo}
	assert.True(t, models.IsMalformed(r.chat.CreateConversation(ctx, &swapped)))

	self := models.Conversation{Participant1: a.ID, Participant2: a.ID}
	assert.True(t, models.IsMalformed(r.chat.CreateConversation(ctx, &self)))

	convs, err := r.chat.ConversationsFor(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestChatRepository_CreateMessage(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	a := r.user(t, "a")
	b := r.user(t, "b")
	stranger := r.user(t, "c")
	conv := newConversation(t, r, a.ID, b.ID)
	r.pub.reset()

	msg := models.Message{ConversationID: conv.ID, SenderID: a.ID, Text: "hi"}
	require.NoError(t, r.chat.CreateMessage(ctx, &msg))
	assert.Equal(t, []string{"messages/insert", "conversations/update"}, r.pub.tables())

	scopes := r.pub.all()[0].Scopes
	assert.Contains(t, scopes, models.Scope{Name: models.ScopeConversation, Value: conv.ID})
	assert.Contains(t, scopes, models.Scope{Name: models.ScopeParticipant, Value: b.ID})

	got, err := r.chat.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.WithinDuration(t, msg.CreatedAt, *got.LastMessageAt, time.Millisecond)

	// An older message never moves last_message_at backwards.
	r.pub.reset()
	old := models.Message{ConversationID: conv.ID, SenderID: b.ID, Text: "late", CreatedAt: msg.CreatedAt.Add(-time.Hour)}
	require.NoError(t, r.chat.CreateMessage(ctx, &old))
	assert.Equal(t, []string{"messages/insert"}, r.pub.tables())

	err = r.chat.CreateMessage(ctx, &models.Message{ConversationID: conv.ID, SenderID: stranger.ID, Text: "x"})
	assert.Equal(t, models.CodeForbidden, models.CodeOf(err))

	err = r.chat.CreateMessage(ctx, &models.Message{ConversationID: conv.ID, SenderID: a.ID})
	assert.Equal(t, models.CodeValidation, models.CodeOf(err))

	withImage := models.Message{ConversationID: conv.ID, SenderID: a.ID, ImageURLs: models.StringList{"/media/x.png"}}
	require.NoError(t, r.chat.CreateMessage(ctx, &withImage))

	msgs, err := r.chat.ListMessages(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "late", msgs[0].Text)
	assert.Equal(t, models.StringList{"/media/x.png"}, msgs[2].ImageURLs)
}

func TestChatRepository_InboxAndMarkRead(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	a := r.user(t, "a")
	b := r.user(t, "b")
	conv := newConversation(t, r, a.ID, b.ID)

	base := time.Now().UTC().Add(-time.Minute)
	for i, sender := range []string{b.ID, b.ID, a.ID} {
		m := models.Message{ConversationID: conv.ID, SenderID: sender, Text: "m", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, r.chat.CreateMessage(ctx, &m))
	}

	inbox, err := r.chat.InboxMessages(ctx, a.ID)
	require.NoError(t, err)
	// Two unread from b plus the latest (mine).
	assert.Len(t, inbox, 3)

	r.pub.reset()
	n, err := r.chat.MarkRead(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"messages/update", "messages/update"}, r.pub.tables())
	assert.True(t, decode[models.Message](t, r.pub.all()[0].Event).IsRead)

	n, err = r.chat.MarkRead(ctx, conv.ID, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	inbox, err = r.chat.InboxMessages(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, inbox, 1, "only the latest message remains once everything is read")

	_, err = r.chat.MarkRead(ctx, conv.ID, "stranger")
	assert.Equal(t, models.CodeForbidden, models.CodeOf(err))
}
