package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"socialsync/internal/config"
	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/service"
	"socialsync/internal/storage"
	"socialsync/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret-that-is-long-enough-0123456789"

type testServer struct {
	srv  *Server
	app  *fiber.App
	db   *gorm.DB
	feed *testutil.FakeFeed
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Port:                     "0",
		JWTSecret:                testSecret,
		FeatureFlags:             "refetch_on_duplicate=on",
		OptimisticTimeoutSeconds: 2,
		FeedLimit:                50,
	}
	db := testutil.NewSQLiteDB(t)
	feed := testutil.NewFakeFeed()
	store, err := storage.NewLocalStore(t.TempDir(), "https://cdn.test")
	require.NoError(t, err)

	srv := NewServerWithBus(cfg, db, nil, feed, store)
	t.Cleanup(func() { _ = srv.Sessions().Close(context.Background()) })
	return &testServer{srv: srv, app: srv.App(), db: db, feed: feed}
}

func (ts *testServer) user(t *testing.T, name string) (models.User, string) {
	t.Helper()
	u := models.User{Username: name, DisplayName: name}
	require.NoError(t, ts.db.Create(&u).Error)
	token, err := middleware.IssueToken(testSecret, u.ID, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode(t *testing.T, b []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(b, v), string(b))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodGet, "/api/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ts.do(t, http.MethodGet, "/api/feed", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	// No Redis means no change feed across processes.
	status, body := ts.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	decode(t, body, &ready)
	assert.Equal(t, "healthy", ready.Checks["database"])
	assert.Equal(t, "unavailable", ready.Checks["redis"])
}

func TestInvalidIDIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	status, body := ts.do(t, http.MethodGet, "/api/posts/42", token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	var e models.ErrorResponse
	decode(t, body, &e)
	assert.Equal(t, models.CodeValidation, e.Code)
}

func TestPostLikeToggleFlow(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	status, body := ts.do(t, http.MethodPost, "/api/posts?wait=true", token, fiber.Map{"title": "first"})
	require.Equal(t, http.StatusOK, status, string(body))
	var created struct {
		Post     models.Post  `json:"post"`
		Mutation mutationView `json:"mutation"`
	}
	decode(t, body, &created)
	assert.Equal(t, "confirmed", created.Mutation.State)

	path := "/api/posts/" + created.Post.ID
	status, body = ts.do(t, http.MethodPost, path+"/like/toggle?wait=true", token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var toggled struct {
		Liked bool `json:"liked"`
	}
	decode(t, body, &toggled)
	assert.True(t, toggled.Liked)

	status, body = ts.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Post  models.Post `json:"post"`
		Liked bool        `json:"liked"`
	}
	decode(t, body, &got)
	assert.True(t, got.Liked)
	assert.Equal(t, 1, got.Post.LikeCount)

	status, _ = ts.do(t, http.MethodDelete, path+"/like?wait=true", token, nil)
	require.Equal(t, http.StatusOK, status)
	var likes int64
	require.NoError(t, ts.db.Model(&models.Like{}).Count(&likes).Error)
	assert.Zero(t, likes)
}

func TestCreatePostValidation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	status, _ := ts.do(t, http.MethodPost, "/api/posts", token, fiber.Map{"title": ""})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCommentsThroughWatch(t *testing.T) {
	ts := newTestServer(t)
	alice, token := ts.user(t, "alice")
	post := models.Post{AuthorID: alice.ID, Title: "thread"}
	require.NoError(t, ts.db.Create(&post).Error)

	path := "/api/posts/" + post.ID + "/comments"
	status, body := ts.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, "[]", string(body))

	status, body = ts.do(t, http.MethodPost, path+"?wait=true", token, fiber.Map{"text": "root"})
	require.Equal(t, http.StatusOK, status, string(body))
	var root struct {
		Comment models.Comment `json:"comment"`
	}
	decode(t, body, &root)

	status, body = ts.do(t, http.MethodPost, path+"?wait=true", token, fiber.Map{"text": "reply", "parent_id": root.Comment.ID})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = ts.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, status)
	var threads []struct {
		ID      string           `json:"id"`
		Replies []models.Comment `json:"replies"`
	}
	decode(t, body, &threads)
	require.Len(t, threads, 1)
	assert.Equal(t, root.Comment.ID, threads[0].ID)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, "reply", threads[0].Replies[0].Text)

	status, _ = ts.do(t, http.MethodDelete, "/api/watches/comments/"+post.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = ts.do(t, http.MethodDelete, "/api/watches/bogus/"+post.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConversationFlow(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceToken := ts.user(t, "alice")
	bob, bobToken := ts.user(t, "bob")
	_, eveToken := ts.user(t, "eve")

	var fromAlice, fromBob models.Conversation
	status, body := ts.do(t, http.MethodPost, "/api/conversations", aliceToken, fiber.Map{"user_id": bob.ID})
	require.Equal(t, http.StatusOK, status, string(body))
	decode(t, body, &fromAlice)
	status, body = ts.do(t, http.MethodPost, "/api/conversations", bobToken, fiber.Map{"user_id": alice.ID})
	require.Equal(t, http.StatusOK, status, string(body))
	decode(t, body, &fromBob)
	assert.Equal(t, fromAlice.ID, fromBob.ID)

	status, _ = ts.do(t, http.MethodPost, "/api/conversations", aliceToken, fiber.Map{"user_id": alice.ID})
	assert.Equal(t, http.StatusBadRequest, status)

	msgs := "/api/conversations/" + fromAlice.ID + "/messages"
	status, body = ts.do(t, http.MethodPost, msgs+"?wait=true", aliceToken, fiber.Map{"text": "hi bob"})
	require.Equal(t, http.StatusOK, status, string(body))

	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
		req.Header.Set("Authorization", "Bearer "+bobToken)
		resp, err := ts.app.Test(req, -1)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var inbox struct {
			Unread int `json:"unread"`
		}
		return json.NewDecoder(resp.Body).Decode(&inbox) == nil && inbox.Unread == 1
	}, 3*time.Second, 20*time.Millisecond)

	status, body = ts.do(t, http.MethodGet, msgs, bobToken, nil)
	require.Equal(t, http.StatusOK, status)
	var list []models.Message
	decode(t, body, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "hi bob", list[0].Text)

	status, _ = ts.do(t, http.MethodGet, msgs, eveToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, http.MethodPost, "/api/conversations/"+fromAlice.ID+"/read?wait=true", bobToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var read struct {
		Unread int `json:"unread"`
	}
	decode(t, body, &read)
	assert.Zero(t, read.Unread)
}

func TestFollowAndProfile(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken := ts.user(t, "alice")
	bob, _ := ts.user(t, "bob")

	status, body := ts.do(t, http.MethodPost, "/api/users/"+bob.ID+"/follow/toggle?wait=true", aliceToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = ts.do(t, http.MethodGet, "/api/users/"+bob.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var profile struct {
		Profile     models.User `json:"profile"`
		IsFollowing bool        `json:"is_following"`
	}
	decode(t, body, &profile)
	assert.True(t, profile.IsFollowing)
	assert.Equal(t, 1, profile.Profile.FollowerCount)

	status, body = ts.do(t, http.MethodGet, "/api/me/following", aliceToken, nil)
	require.Equal(t, http.StatusOK, status)
	var following []string
	decode(t, body, &following)
	assert.Equal(t, []string{bob.ID}, following)
}

func TestCommunityLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken := ts.user(t, "alice")
	_, bobToken := ts.user(t, "bob")

	status, body := ts.do(t, http.MethodPost, "/api/communities?wait=true", aliceToken,
		fiber.Map{"name": "Gophers", "category": "tech"})
	require.Equal(t, http.StatusOK, status, string(body))
	var created struct {
		Community models.Community `json:"community"`
	}
	decode(t, body, &created)

	status, body = ts.do(t, http.MethodGet, "/api/communities/"+created.Community.ID, aliceToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var mine struct {
		Member bool   `json:"member"`
		Role   string `json:"role"`
	}
	decode(t, body, &mine)
	assert.True(t, mine.Member)
	assert.Equal(t, string(models.MembershipRoleAdmin), mine.Role)

	join := "/api/communities/" + created.Community.ID + "/join?wait=true"
	status, body = ts.do(t, http.MethodPost, join, bobToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	status, _ = ts.do(t, http.MethodDelete, join, bobToken, nil)
	require.Equal(t, http.StatusOK, status)
}

func TestFeatureFlags(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.user(t, "alice")

	status, body := ts.do(t, http.MethodGet, "/api/me/feature-flags", token, nil)
	require.Equal(t, http.StatusOK, status)
	var flags struct {
		Flags []struct {
			Name       string `json:"name"`
			Configured string `json:"configured"`
			Default    bool   `json:"default"`
			Enabled    bool   `json:"enabled"`
		} `json:"flags"`
		Evaluated map[string]bool `json:"evaluated"`
	}
	decode(t, body, &flags)
	assert.True(t, flags.Evaluated["refetch_on_duplicate"])
	require.Len(t, flags.Flags, 1)
	assert.Equal(t, "refetch_on_duplicate", flags.Flags[0].Name)
	assert.Equal(t, "on", flags.Flags[0].Configured)
	assert.True(t, flags.Flags[0].Default)
}

func TestWebSocketPushesLocalChanges(t *testing.T) {
	ts := newTestServer(t)
	alice, token := ts.user(t, "alice")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.app.Listener(ln) }()
	t.Cleanup(func() { _ = ts.app.Shutdown() })

	status, _ := ts.do(t, http.MethodGet, "/api/ws", token, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/api/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready readyFrame
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "ready", ready.Type)
	assert.Equal(t, alice.ID, ready.UserID)

	sess, err := ts.srv.Sessions().Get(context.Background(), alice.ID)
	require.NoError(t, err)
	_, pending, err := sess.CreatePost(context.Background(), service.CreatePostInput{Title: "pushed"})
	require.NoError(t, err)

	for {
		var notice map[string]string
		require.NoError(t, conn.ReadJSON(&notice))
		if notice["type"] == "change" && notice["collection"] == "feed" {
			break
		}
	}
	require.NoError(t, pending.Wait(context.Background()))
}
