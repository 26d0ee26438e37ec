package service

import (
	"context"
	"testing"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/canonical"
	"socialsync/internal/featureflags"
	"socialsync/internal/models"
	"socialsync/internal/repository"
	"socialsync/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const waitFor = 2 * time.Second

type harness struct {
	db    *gorm.DB
	feed  *testutil.FakeFeed
	deps  Deps
	users repository.UserRepository
	posts repository.PostRepository
	chat  repository.ChatRepository
}

// newHarness wires SQLite repositories to an in-memory change feed, so
// every committed write reaches live sessions like it would through Redis.
func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	feed := testutil.NewFakeFeed()
	c := cache.New(nil)
	h := &harness{
		db:   db,
		feed: feed,
		deps: Deps{
			Users:       repository.NewUserRepository(db, feed, c),
			Posts:       repository.NewPostRepository(db, feed, c),
			Likes:       repository.NewLikeRepository(db, feed, c),
			Comments:    repository.NewCommentRepository(db, feed, c),
			Follows:     repository.NewFollowRepository(db, feed, c),
			Communities: repository.NewCommunityRepository(db, feed),
			Chat:        repository.NewChatRepository(db, feed, c),
			Feed:        feed,
			Flags:       featureflags.NewManager("refetch_on_duplicate=on"),
			Timeout:     waitFor,
		},
	}
	h.users = h.deps.Users
	h.posts = h.deps.Posts
	h.chat = h.deps.Chat
	return h
}

func (h *harness) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Username: name, DisplayName: name}
	require.NoError(t, h.users.Create(context.Background(), &u))
	return u
}

func (h *harness) post(t *testing.T, author string) models.Post {
	t.Helper()
	p := models.Post{AuthorID: author, Title: "hello"}
	require.NoError(t, h.posts.Create(context.Background(), &p))
	return p
}

func (h *harness) conversation(t *testing.T, a, b string) models.Conversation {
	t.Helper()
	pair, err := canonical.Resolve(a, b)
	require.NoError(t, err)
	conv := pair.Conversation()
	require.NoError(t, h.chat.CreateConversation(context.Background(), &conv))
	return conv
}

func (h *harness) message(t *testing.T, conv, sender, text string) models.Message {
	t.Helper()
	m := models.Message{ConversationID: conv, SenderID: sender, Text: text}
	require.NoError(t, h.chat.CreateMessage(context.Background(), &m))
	return m
}

func (h *harness) session(t *testing.T, userID string) *Session {
	t.Helper()
	return startSession(t, h.deps, userID)
}

func startSession(t *testing.T, deps Deps, userID string) *Session {
	t.Helper()
	s, err := NewSession(deps, userID)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func wait(t *testing.T, p interface{ Wait(context.Context) error }) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*waitFor)
	defer cancel()
	return p.Wait(ctx)
}

// gate blocks remote writes until opened.
type gate chan struct{}

func (g gate) wait(ctx context.Context) error {
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) open() { close(g) }

type likeStub struct {
	repository.LikeRepository
	insertFn func(context.Context, *models.Like) error
}

func (s *likeStub) Insert(ctx context.Context, l *models.Like) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, l)
	}
	return s.LikeRepository.Insert(ctx, l)
}

type followStub struct {
	repository.FollowRepository
	deleteFn func(context.Context, string, string) error
}

func (s *followStub) Delete(ctx context.Context, follower, following string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, follower, following)
	}
	return s.FollowRepository.Delete(ctx, follower, following)
}

type communityStub struct {
	repository.CommunityRepository
	createFn func(context.Context, *models.Community) (*models.Membership, error)
}

func (s *communityStub) CreateWithOwner(ctx context.Context, c *models.Community) (*models.Membership, error) {
	if s.createFn != nil {
		return s.createFn(ctx, c)
	}
	return s.CommunityRepository.CreateWithOwner(ctx, c)
}

type chatStub struct {
	repository.ChatRepository
	findFn     func(context.Context, canonical.Pair) (*models.Conversation, error)
	markReadFn func(context.Context, string, string) (int64, error)
}

func (s *chatStub) FindConversation(ctx context.Context, pair canonical.Pair) (*models.Conversation, error) {
	if s.findFn != nil {
		return s.findFn(ctx, pair)
	}
	return s.ChatRepository.FindConversation(ctx, pair)
}

func (s *chatStub) MarkRead(ctx context.Context, conv, reader string) (int64, error) {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, conv, reader)
	}
	return s.ChatRepository.MarkRead(ctx, conv, reader)
}
