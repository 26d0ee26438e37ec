package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"socialsync/internal/cache"
	"socialsync/internal/models"
	"socialsync/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type published struct {
	Event  models.ChangeEvent
	Scopes []models.Scope
}

// recorder is a Publisher that keeps every event for assertions.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) PublishChange(_ context.Context, ev models.ChangeEvent, scopes ...models.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Event: ev, Scopes: scopes})
	return nil
}

func (r *recorder) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// tables lists published tables and ops in order, e.g. "likes/insert".
func (r *recorder) tables() []string {
	var out []string
	for _, p := range r.all() {
		out = append(out, p.Event.Table+"/"+string(p.Event.Op))
	}
	return out
}

func decode[T any](t *testing.T, ev models.ChangeEvent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Payload(), &v))
	return v
}

type repos struct {
	db          *gorm.DB
	pub         *recorder
	users       UserRepository
	posts       PostRepository
	likes       LikeRepository
	comments    CommentRepository
	follows     FollowRepository
	communities CommunityRepository
	chat        ChatRepository
}

func setupRepos(t *testing.T) *repos {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	pub := &recorder{}
	c := cache.New(nil)
	return &repos{
		db:          db,
		pub:         pub,
		users:       NewUserRepository(db, pub, c),
		posts:       NewPostRepository(db, pub, c),
		likes:       NewLikeRepository(db, pub, c),
		comments:    NewCommentRepository(db, pub, c),
		follows:     NewFollowRepository(db, pub, c),
		communities: NewCommunityRepository(db, pub),
		chat:        NewChatRepository(db, pub, c),
	}
}

func (r *repos) user(t *testing.T, name string) models.User {
	t.Helper()
	u := models.User{Username: name, DisplayName: name}
	require.NoError(t, r.users.Create(context.Background(), &u))
	return u
}

func (r *repos) post(t *testing.T, author string) models.Post {
	t.Helper()
	p := models.Post{AuthorID: author, Title: "hello"}
	require.NoError(t, r.posts.Create(context.Background(), &p))
	return p
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}
