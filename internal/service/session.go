// Package service exposes the per-user sync session: cached collections,
// optimistic action entry points and screen-scoped watches.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialsync/internal/featureflags"
	"socialsync/internal/graph"
	"socialsync/internal/idempotency"
	"socialsync/internal/inbox"
	"socialsync/internal/models"
	"socialsync/internal/observability"
	"socialsync/internal/optimistic"
	"socialsync/internal/reconcile"
	"socialsync/internal/repository"
	"socialsync/internal/storage"
)

// Collection names owned by the session itself.
const (
	FeedCollection        = "feed"
	LikesCollection       = "likes"
	CommunitiesCollection = "communities"
)

const (
	defaultFeedLimit      = 50
	defaultLikeLimit      = 500
	defaultMessageLimit   = 200
	defaultCommunityLimit = 100
)

// Deps are the remote collaborators of a session.
type Deps struct {
	Users       repository.UserRepository
	Posts       repository.PostRepository
	Likes       repository.LikeRepository
	Comments    repository.CommentRepository
	Follows     repository.FollowRepository
	Communities repository.CommunityRepository
	Chat        repository.ChatRepository
	Feed        reconcile.Feed
	Store       storage.ObjectStore
	Flags       *featureflags.Manager

	// Timeout is the optimistic fail-safe interval. Zero uses the tracker default.
	Timeout   time.Duration
	FeedLimit int
	// LikeLimit bounds how many of the user's most recent likes a resync
	// loads. Older likes surface through the duplicate refetch on toggle.
	LikeLimit int
}

func (d Deps) validate() error {
	if d.Users == nil || d.Posts == nil || d.Likes == nil || d.Comments == nil ||
		d.Follows == nil || d.Communities == nil || d.Chat == nil || d.Feed == nil {
		return errors.New("session requires every repository and a change feed")
	}
	return nil
}

type runner interface {
	Start(ctx context.Context) error
	Stop() error
}

// Session is the sync core of one signed-in user. Every local collection
// is mutated only through the session's tracker and reconcilers.
type Session struct {
	me      string
	deps    Deps
	tracker *optimistic.Tracker
	guard   *idempotency.Guard
	logger  *observability.SyncLogger

	graph       *graph.Graph
	inbox       *inbox.Aggregator
	feed        *reconcile.Collection[models.Post]
	likes       *reconcile.Collection[models.Like]
	communities *reconcile.Collection[models.Community]

	// actMu serializes the in-flight check and apply of toggles so that a
	// double-fired action coalesces onto the first.
	actMu sync.Mutex

	mu          sync.Mutex
	started     bool
	closed      bool
	runners     []runner
	watches     map[*Watch]struct{}
	profileRefs map[string]int

	lmu       sync.Mutex
	listeners map[uint64]func(reconcile.Change)
	nextID    uint64
	cancels   []func()
}

// NewSession creates a stopped session for userID.
func NewSession(deps Deps, userID string) (*Session, error) {
	if userID == "" {
		return nil, models.NewUnauthorizedError("a user id is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.FeedLimit <= 0 {
		deps.FeedLimit = defaultFeedLimit
	}
	if deps.LikeLimit <= 0 {
		deps.LikeLimit = defaultLikeLimit
	}

	s := &Session{
		me:      userID,
		deps:    deps,
		tracker: optimistic.NewTracker(optimistic.WithTimeout(deps.Timeout)),
		guard:   idempotency.NewGuard(models.IsUniqueViolation),
		logger:  observability.NewSyncLogger("session"),
		graph:   graph.New(userID),
		inbox:   inbox.New(userID),
		feed: reconcile.NewCollection(FeedCollection, reconcile.Rules[models.Post]{
			Less: func(a, b models.Post) bool { return a.CreatedAt.After(b.CreatedAt) },
			Keep: models.Post.IsPublished,
		}),
		likes: reconcile.NewCollection(LikesCollection, reconcile.Rules[models.Like]{
			Keep: func(l models.Like) bool { return l.UserID == userID },
		}),
		communities: reconcile.NewCollection(CommunitiesCollection, reconcile.Rules[models.Community]{
			Less: func(a, b models.Community) bool { return a.CreatedAt.After(b.CreatedAt) },
		}),
		watches:     make(map[*Watch]struct{}),
		profileRefs: map[string]int{userID: 1},
		listeners:   make(map[uint64]func(reconcile.Change)),
	}

	s.cancels = []func(){
		s.feed.Subscribe(s.emit),
		s.likes.Subscribe(s.emit),
		s.communities.Subscribe(s.emit),
		s.graph.Edges().Subscribe(s.emit),
		s.graph.Profiles().Subscribe(s.emit),
		s.graph.Memberships().Subscribe(s.emit),
		s.inbox.Conversations().Subscribe(s.emit),
		s.inbox.Subscribe(s.emit),
	}
	return s, nil
}

// Me returns the current user id.
func (s *Session) Me() string { return s.me }

// Tracker exposes pending mutation state.
func (s *Session) Tracker() *optimistic.Tracker { return s.tracker }

// Start loads every session-wide collection and subscribes to its changes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	me := s.me
	d := s.deps
	runners := []runner{
		reconcile.New[models.Post](models.TablePosts, s.feed, d.Feed,
			func(ctx context.Context) ([]models.Post, error) { return d.Posts.ListPublished(ctx, d.FeedLimit) },
			reconcile.WithObserver[models.Post](s.tracker),
			reconcile.WithPending[models.Post](s.tracker.PendingFor(FeedCollection)),
		),
		reconcile.New[models.Like](models.TableLikes, s.likes, d.Feed,
			func(ctx context.Context) ([]models.Like, error) { return d.Likes.ListByUser(ctx, me, d.LikeLimit) },
			reconcile.WithFilters[models.Like](models.ScopedFilter(models.TableLikes, models.ScopeUser, me)),
			reconcile.WithObserver[models.Like](s.tracker),
			reconcile.WithPending[models.Like](s.tracker.PendingFor(LikesCollection)),
		),
		reconcile.New[models.Follow](models.TableFollows, s.graph.Edges(), d.Feed,
			func(ctx context.Context) ([]models.Follow, error) { return d.Follows.ListTouching(ctx, me) },
			reconcile.WithFilters[models.Follow](
				models.ScopedFilter(models.TableFollows, models.ScopeFollower, me),
				models.ScopedFilter(models.TableFollows, models.ScopeFollowing, me),
			),
			reconcile.WithObserver[models.Follow](s.tracker),
			reconcile.WithPending[models.Follow](s.tracker.PendingFor(graph.EdgesCollection)),
		),
		s.profileReconciler(me),
		reconcile.New[models.Membership](models.TableMemberships, s.graph.Memberships(), d.Feed,
			func(ctx context.Context) ([]models.Membership, error) { return d.Communities.MembershipsFor(ctx, me) },
			reconcile.WithFilters[models.Membership](models.ScopedFilter(models.TableMemberships, models.ScopeUser, me)),
			reconcile.WithObserver[models.Membership](s.tracker),
			reconcile.WithPending[models.Membership](s.tracker.PendingFor(graph.MembershipsCollection)),
		),
		reconcile.New[models.Community](models.TableCommunities, s.communities, d.Feed,
			func(ctx context.Context) ([]models.Community, error) { return d.Communities.List(ctx, defaultCommunityLimit) },
			reconcile.WithObserver[models.Community](s.tracker),
			reconcile.WithPending[models.Community](s.tracker.PendingFor(CommunitiesCollection)),
		),
		reconcile.New[models.Conversation](models.TableConvos, s.inbox.Conversations(), d.Feed,
			func(ctx context.Context) ([]models.Conversation, error) { return d.Chat.ConversationsFor(ctx, me) },
			reconcile.WithFilters[models.Conversation](models.ScopedFilter(models.TableConvos, models.ScopeParticipant, me)),
			reconcile.WithObserver[models.Conversation](s.tracker),
		),
		reconcile.New[models.Message](models.TableMessages, s.inbox, d.Feed,
			func(ctx context.Context) ([]models.Message, error) { return d.Chat.InboxMessages(ctx, me) },
			reconcile.WithFilters[models.Message](models.ScopedFilter(models.TableMessages, models.ScopeParticipant, me)),
			reconcile.WithObserver[models.Message](s.tracker),
			reconcile.WithPending[models.Message](s.tracker.PendingFor(inbox.InboxCollection)),
		),
	}

	started := make([]runner, 0, len(runners))
	for _, r := range runners {
		if err := r.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop()
			}
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return fmt.Errorf("start session: %w", err)
		}
		started = append(started, r)
	}

	s.mu.Lock()
	s.runners = started
	s.mu.Unlock()
	s.logger.LogLifecycle(ctx, "session_started", map[string]interface{}{"user_id": me})
	return nil
}

// Close tears down every watch and subscription and waits for pending
// mutations to settle or ctx to end. Calling it again is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watches := make([]*Watch, 0, len(s.watches))
	for w := range s.watches {
		watches = append(watches, w)
	}
	runners := s.runners
	s.runners = nil
	s.mu.Unlock()

	var errs []error
	for _, w := range watches {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.tracker.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for pending mutations: %w", err))
	}
	for _, cancel := range s.cancels {
		cancel()
	}
	s.logger.LogLifecycle(ctx, "session_closed", map[string]interface{}{"user_id": s.me})
	return errors.Join(errs...)
}

// Subscribe registers fn for change notices from every collection of the
// session, including those of open watches.
func (s *Session) Subscribe(fn func(reconcile.Change)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Session) emit(ch reconcile.Change) {
	s.lmu.Lock()
	fns := make([]func(reconcile.Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) refetchOnDuplicate() bool {
	return s.deps.Flags.Enabled(featureflags.RefetchOnDuplicate, s.me)
}

// apply hands m to the tracker unless the session is closed.
func (s *Session) apply(ctx context.Context, m optimistic.Mutation) *optimistic.Pending {
	if s.isClosed() {
		return optimistic.Settled(m.Name, errors.New("session is closed"))
	}
	return s.tracker.Apply(ctx, m)
}
