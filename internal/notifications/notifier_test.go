package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"socialsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = 2 * time.Second
	testPollInterval      = 10 * time.Millisecond
)

type testPost struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
}

func newTestNotifier(t *testing.T) (*miniredis.Miniredis, *Notifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewNotifier(rdb)
}

func TestChangeChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "changes:posts", ChangeChannel(models.TableFilter(models.TablePosts)))
	assert.Equal(t, "changes:likes:user:u1", ChangeChannel(models.ScopedFilter(models.TableLikes, "user", "u1")))
}

func TestNotifier_NilRedisIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	ev, err := models.NewChangeEvent(models.TablePosts, models.ChangeInsert, testPost{ID: "p1"})
	require.NoError(t, err)
	assert.NoError(t, n.PublishChange(context.Background(), ev))

	sub, err := n.Subscribe(context.Background(), models.TableFilter(models.TablePosts), func(models.ChangeEvent) {}, nil)
	require.NoError(t, err)
	assert.NoError(t, sub.Close())
}

func TestNotifier_PublishReachesTableAndScopeChannels(t *testing.T) {
	_, n := newTestNotifier(t)
	ctx := context.Background()

	table := make(chan models.ChangeEvent, 4)
	scoped := make(chan models.ChangeEvent, 4)
	otherScope := make(chan models.ChangeEvent, 4)

	s1, err := n.Subscribe(ctx, models.TableFilter(models.TablePosts), func(ev models.ChangeEvent) { table <- ev }, nil)
	require.NoError(t, err)
	defer func() { _ = s1.Close() }()
	s2, err := n.Subscribe(ctx, models.ScopedFilter(models.TablePosts, "author", "u1"), func(ev models.ChangeEvent) { scoped <- ev }, nil)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()
	s3, err := n.Subscribe(ctx, models.ScopedFilter(models.TablePosts, "author", "u2"), func(ev models.ChangeEvent) { otherScope <- ev }, nil)
	require.NoError(t, err)
	defer func() { _ = s3.Close() }()

	ev, err := models.NewChangeEvent(models.TablePosts, models.ChangeInsert, testPost{ID: "p1", AuthorID: "u1"})
	require.NoError(t, err)
	require.NoError(t, n.PublishChange(ctx, ev, models.Scope{Name: "author", Value: "u1"}))

	select {
	case got := <-table:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, models.ChangeInsert, got.Op)
		assert.JSONEq(t, `{"id":"p1","author_id":"u1"}`, string(got.Payload()))
	case <-time.After(testEventuallyTimeout):
		t.Fatal("table subscriber did not receive event")
	}
	select {
	case got := <-scoped:
		assert.Equal(t, ev.ID, got.ID)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("scoped subscriber did not receive event")
	}
	assert.Never(t, func() bool { return len(otherScope) > 0 }, 100*time.Millisecond, testPollInterval)
}

func TestNotifier_CloseStopsDelivery(t *testing.T) {
	mr, n := newTestNotifier(t)
	ctx := context.Background()

	var received int32
	sub, err := n.Subscribe(ctx, models.TableFilter(models.TableLikes), func(models.ChangeEvent) {
		atomic.AddInt32(&received, 1)
	}, nil)
	require.NoError(t, err)

	ev, err := models.NewChangeEvent(models.TableLikes, models.ChangeInsert, testPost{ID: "l1"})
	require.NoError(t, err)
	require.NoError(t, n.PublishChange(ctx, ev))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, testEventuallyTimeout, testPollInterval)

	require.NoError(t, sub.Close())
	assert.NotPanics(t, func() { _ = sub.Close() })
	assert.Eventually(t, func() bool { return len(mr.PubSubChannels("changes:likes")) == 0 }, testEventuallyTimeout, testPollInterval)

	require.NoError(t, n.PublishChange(ctx, ev))
	assert.Never(t, func() bool { return atomic.LoadInt32(&received) > 1 }, 100*time.Millisecond, testPollInterval)
}

func TestNotifier_UndecodablePayloadIsSkipped(t *testing.T) {
	mr, n := newTestNotifier(t)
	ctx := context.Background()

	got := make(chan models.ChangeEvent, 1)
	sub, err := n.Subscribe(ctx, models.TableFilter(models.TableFollows), func(ev models.ChangeEvent) { got <- ev }, nil)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	mr.Publish("changes:follows", "{not json")
	ev, err := models.NewChangeEvent(models.TableFollows, models.ChangeDelete, testPost{ID: "f1"})
	require.NoError(t, err)
	require.NoError(t, n.PublishChange(ctx, ev))

	select {
	case e := <-got:
		assert.Equal(t, ev.ID, e.ID)
		assert.Equal(t, models.ChangeDelete, e.Op)
	case <-time.After(testEventuallyTimeout):
		t.Fatal("valid event after garbage was not delivered")
	}
}

func TestNotifier_HandlerPanicDoesNotKillSubscription(t *testing.T) {
	_, n := newTestNotifier(t)
	ctx := context.Background()

	var calls int32
	sub, err := n.Subscribe(ctx, models.TableFilter(models.TableComments), func(models.ChangeEvent) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
	}, nil)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	ev, err := models.NewChangeEvent(models.TableComments, models.ChangeInsert, testPost{ID: "c1"})
	require.NoError(t, err)
	require.NoError(t, n.PublishChange(ctx, ev))
	require.NoError(t, n.PublishChange(ctx, ev))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, testEventuallyTimeout, testPollInterval)
}

func TestNotifier_ReconnectIsReported(t *testing.T) {
	mr, n := newTestNotifier(t)
	ctx := context.Background()

	var reconnects int32
	sub, err := n.Subscribe(ctx, models.TableFilter(models.TableMessages), func(models.ChangeEvent) {}, func() {
		atomic.AddInt32(&reconnects, 1)
	})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	assert.Equal(t, int32(0), atomic.LoadInt32(&reconnects))

	mr.Close()
	require.NoError(t, mr.Restart())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&reconnects) >= 1 }, 10*time.Second, 50*time.Millisecond)
}
