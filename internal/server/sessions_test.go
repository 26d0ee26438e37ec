package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/featureflags"
	"socialsync/internal/models"
	"socialsync/internal/notifications"
	"socialsync/internal/reconcile"
	"socialsync/internal/repository"
	"socialsync/internal/service"
	"socialsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noticeLog struct {
	mu    sync.Mutex
	users map[string]int
}

func (l *noticeLog) record(userID string, _ reconcile.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID]++
}

func (l *noticeLog) count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[userID]
}

func newManager(t *testing.T, opts ...ManagerOption) (*SessionManager, *testutil.FakeFeed, service.Deps, *noticeLog) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	feed := testutil.NewFakeFeed()
	c := cache.New(nil)
	deps := service.Deps{
		Users:       repository.NewUserRepository(db, feed, c),
		Posts:       repository.NewPostRepository(db, feed, c),
		Likes:       repository.NewLikeRepository(db, feed, c),
		Comments:    repository.NewCommentRepository(db, feed, c),
		Follows:     repository.NewFollowRepository(db, feed, c),
		Communities: repository.NewCommunityRepository(db, feed),
		Chat:        repository.NewChatRepository(db, feed, c),
		Feed:        feed,
		Flags:       featureflags.NewManager(""),
		Timeout:     2 * time.Second,
	}
	log := &noticeLog{users: make(map[string]int)}
	m := NewSessionManager(deps, log.record, opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, feed, deps, log
}

func TestSessionManagerReusesSessions(t *testing.T) {
	m, _, deps, _ := newManager(t)
	ctx := context.Background()
	u := models.User{Username: "alice"}
	require.NoError(t, deps.Users.Create(ctx, &u))

	a, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	b, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Drop(ctx, u.ID))
	assert.Zero(t, m.Len())
	c, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestSessionManagerForwardsLocalChanges(t *testing.T) {
	m, _, deps, log := newManager(t)
	ctx := context.Background()
	u := models.User{Username: "alice"}
	require.NoError(t, deps.Users.Create(ctx, &u))

	sess, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	_, p, err := sess.CreatePost(ctx, service.CreatePostInput{Title: "hi"})
	require.NoError(t, err)
	require.NoError(t, p.Wait(ctx))
	assert.Positive(t, log.count(u.ID))
}

func TestSessionManagerWatchLifecycle(t *testing.T) {
	m, feed, deps, _ := newManager(t)
	ctx := context.Background()
	u := models.User{Username: "alice"}
	require.NoError(t, deps.Users.Create(ctx, &u))
	post := models.Post{AuthorID: u.ID, Title: "p"}
	require.NoError(t, deps.Posts.Create(ctx, &post))

	_, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	base := feed.Live()

	w1, err := m.Watch(ctx, u.ID, WatchComments, post.ID)
	require.NoError(t, err)
	w2, err := m.Watch(ctx, u.ID, WatchComments, post.ID)
	require.NoError(t, err)
	assert.Same(t, w1, w2)
	assert.Greater(t, feed.Live(), base)

	require.NoError(t, m.Unwatch(u.ID, WatchComments, post.ID))
	assert.Equal(t, base, feed.Live())
	require.NoError(t, m.Unwatch(u.ID, WatchComments, post.ID))

	_, err = m.Watch(ctx, u.ID, "bogus", post.ID)
	assert.Equal(t, models.CodeValidation, models.CodeOf(err))
}

func TestSessionManagerClosedRefusesSessions(t *testing.T) {
	m, feed, deps, _ := newManager(t)
	ctx := context.Background()
	u := models.User{Username: "alice"}
	require.NoError(t, deps.Users.Create(ctx, &u))

	_, err := m.Get(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))
	assert.Zero(t, feed.Live())

	_, err = m.Get(ctx, u.ID)
	assert.Error(t, err)
}

// slowFollows holds the initial follow load of one user until released.
type slowFollows struct {
	repository.FollowRepository
	user    string
	entered chan struct{}
	release chan struct{}
}

func (f *slowFollows) ListTouching(ctx context.Context, userID string) ([]models.Follow, error) {
	if userID == f.user {
		close(f.entered)
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.FollowRepository.ListTouching(ctx, userID)
}

func TestSessionManagerSlowStartDoesNotBlockOtherUsers(t *testing.T) {
	m, _, deps, _ := newManager(t)
	ctx := context.Background()
	slow := models.User{Username: "slow"}
	fast := models.User{Username: "fast"}
	require.NoError(t, deps.Users.Create(ctx, &slow))
	require.NoError(t, deps.Users.Create(ctx, &fast))

	follows := &slowFollows{FollowRepository: deps.Follows, user: slow.ID, entered: make(chan struct{}), release: make(chan struct{})}
	deps.Follows = follows
	m.deps = deps

	type result struct {
		sess *service.Session
		err  error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	go func() {
		s, err := m.Get(ctx, slow.ID)
		first <- result{s, err}
	}()
	<-follows.entered
	go func() {
		s, err := m.Get(ctx, slow.ID)
		second <- result{s, err}
	}()

	done := make(chan error, 1)
	go func() {
		_, err := m.Get(ctx, fast.ID)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("starting one user's session blocked another user")
	}

	close(follows.release)
	a, b := <-first, <-second
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.sess, b.sess, "concurrent callers share one start")
	assert.Equal(t, 2, m.Len())
}

func TestSessionManagerReleasesSessionWhenLastClientLeaves(t *testing.T) {
	hub := notifications.NewHub()
	m, feed, deps, _ := newManager(t, WithPresence(hub.Connected))
	hub.OnIdle(func(userID string) { _ = m.Release(context.Background(), userID) })
	ctx := context.Background()
	u := models.User{Username: "alice"}
	require.NoError(t, deps.Users.Create(ctx, &u))
	post := models.Post{AuthorID: u.ID, Title: "p"}
	require.NoError(t, deps.Posts.Create(ctx, &post))
	base := feed.Live()

	tab1, err := hub.Register(u.ID, nil)
	require.NoError(t, err)
	tab2, err := hub.Register(u.ID, nil)
	require.NoError(t, err)
	_, err = m.Get(ctx, u.ID)
	require.NoError(t, err)
	_, err = m.Watch(ctx, u.ID, WatchComments, post.ID)
	require.NoError(t, err)
	require.Greater(t, feed.Live(), base)

	hub.UnregisterClient(tab1)
	assert.Equal(t, 1, m.Len(), "another tab is still connected")

	hub.UnregisterClient(tab2)
	assert.Zero(t, m.Len())
	assert.Equal(t, base, feed.Live())
}

func TestSessionManagerSweepsIdleSessions(t *testing.T) {
	connected := map[string]int{}
	var mu sync.Mutex
	presence := func(userID string) int {
		mu.Lock()
		defer mu.Unlock()
		return connected[userID]
	}
	m, feed, deps, _ := newManager(t, WithIdleTTL(time.Minute), WithPresence(presence))
	clock := time.Now()
	m.now = func() time.Time { return clock }
	ctx := context.Background()
	idle := models.User{Username: "idle"}
	online := models.User{Username: "online"}
	require.NoError(t, deps.Users.Create(ctx, &idle))
	require.NoError(t, deps.Users.Create(ctx, &online))
	base := feed.Live()

	_, err := m.Get(ctx, idle.ID)
	require.NoError(t, err)
	_, err = m.Get(ctx, online.ID)
	require.NoError(t, err)
	mu.Lock()
	connected[online.ID] = 1
	mu.Unlock()

	clock = clock.Add(30 * time.Second)
	assert.Zero(t, m.Sweep(ctx))

	// Use keeps a session alive.
	_, err = m.Get(ctx, idle.ID)
	require.NoError(t, err)
	clock = clock.Add(45 * time.Second)
	assert.Zero(t, m.Sweep(ctx))

	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 1, m.Len(), "a user with a live client keeps the session")

	require.NoError(t, m.Drop(ctx, online.ID))
	assert.Equal(t, base, feed.Live())
}
