package service

import (
	"context"
	"errors"
	"sync"

	"socialsync/internal/comments"
	"socialsync/internal/inbox"
	"socialsync/internal/models"
	"socialsync/internal/reconcile"
)

type watchKind string

const (
	watchComments     watchKind = "comments"
	watchConversation watchKind = "conversation"
	watchProfile      watchKind = "profile"
)

// Watch is a screen-scoped subscription. Close must be called when the
// screen goes away; it is safe to call more than once.
type Watch struct {
	s       *Session
	kind    watchKind
	target  string
	runners []runner
	cancels []func()
	release func()

	comments *reconcile.Collection[models.Comment]
	messages *reconcile.Collection[models.Message]
	posts    *reconcile.Collection[models.Post]

	once sync.Once
	err  error
}

// Target returns the watched post, conversation or user id.
func (w *Watch) Target() string { return w.target }

// Threads returns the comment tree of a comments watch.
func (w *Watch) Threads() []comments.Thread {
	if w.comments == nil {
		return nil
	}
	return comments.Build(w.comments.Items())
}

// Messages returns the messages of a conversation watch, oldest first.
func (w *Watch) Messages() []models.Message {
	if w.messages == nil {
		return nil
	}
	return w.messages.Items()
}

// Posts returns the posts of a profile watch, newest first.
func (w *Watch) Posts() []models.Post {
	if w.posts == nil {
		return nil
	}
	return w.posts.Items()
}

// Profile returns the watched profile row.
func (w *Watch) Profile() (models.User, bool) {
	if w.kind != watchProfile {
		return models.User{}, false
	}
	return w.s.graph.Profile(w.target)
}

// Close stops the watch's subscriptions.
func (w *Watch) Close() error {
	w.once.Do(func() {
		var errs []error
		for i := len(w.runners) - 1; i >= 0; i-- {
			if err := w.runners[i].Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, cancel := range w.cancels {
			cancel()
		}
		if w.release != nil {
			w.release()
		}
		w.s.mu.Lock()
		delete(w.s.watches, w)
		w.s.mu.Unlock()
		w.err = errors.Join(errs...)
		w.s.logger.LogLifecycle(context.Background(), "watch_closed", map[string]interface{}{
			"kind":   string(w.kind),
			"target": w.target,
		})
	})
	return w.err
}

func (s *Session) open(ctx context.Context, w *Watch) (*Watch, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("session is closed")
	}
	s.watches[w] = struct{}{}
	s.mu.Unlock()

	for _, r := range w.runners {
		if err := r.Start(ctx); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	s.logger.LogLifecycle(ctx, "watch_opened", map[string]interface{}{
		"kind":   string(w.kind),
		"target": w.target,
	})
	return w, nil
}

func commentsCollection(postID string) string { return "comments:" + postID }

func messagesCollection(convID string) string { return "messages:" + convID }

func profilePostsCollection(userID string) string { return "profile_posts:" + userID }

// WatchComments loads and follows the comments of one post.
func (s *Session) WatchComments(ctx context.Context, postID string) (*Watch, error) {
	if postID == "" {
		return nil, models.NewValidationError("post id is required")
	}
	name := commentsCollection(postID)
	coll := reconcile.NewCollection(name, reconcile.Rules[models.Comment]{
		Less: func(a, b models.Comment) bool { return a.CreatedAt.Before(b.CreatedAt) },
		Keep: func(c models.Comment) bool { return c.PostID == postID },
	})
	rec := reconcile.New[models.Comment](models.TableComments, coll, s.deps.Feed,
		func(ctx context.Context) ([]models.Comment, error) { return s.deps.Comments.ListByPost(ctx, postID) },
		reconcile.WithFilters[models.Comment](models.ScopedFilter(models.TableComments, models.ScopePost, postID)),
		reconcile.WithObserver[models.Comment](s.tracker),
		reconcile.WithPending[models.Comment](s.tracker.PendingFor(name)),
	)
	return s.open(ctx, &Watch{
		s:        s,
		kind:     watchComments,
		target:   postID,
		runners:  []runner{rec},
		cancels:  []func(){coll.Subscribe(s.emit)},
		comments: coll,
	})
}

// WatchConversation loads and follows the messages of one conversation.
// Only participants may watch it.
func (s *Session) WatchConversation(ctx context.Context, convID string) (*Watch, error) {
	if _, err := s.conversation(ctx, convID); err != nil {
		return nil, err
	}
	name := messagesCollection(convID)
	coll := reconcile.NewCollection(name, reconcile.Rules[models.Message]{
		Less: func(a, b models.Message) bool {
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			return a.CreatedAt.Before(b.CreatedAt)
		},
		Merge: inbox.MergeMessage,
		Keep:  func(m models.Message) bool { return m.ConversationID == convID },
	})
	rec := reconcile.New[models.Message](models.TableMessages, coll, s.deps.Feed,
		func(ctx context.Context) ([]models.Message, error) {
			return s.deps.Chat.ListMessages(ctx, convID, defaultMessageLimit)
		},
		reconcile.WithFilters[models.Message](models.ScopedFilter(models.TableMessages, models.ScopeConversation, convID)),
		reconcile.WithObserver[models.Message](s.tracker),
		reconcile.WithPending[models.Message](s.tracker.PendingFor(name)),
	)
	return s.open(ctx, &Watch{
		s:        s,
		kind:     watchConversation,
		target:   convID,
		runners:  []runner{rec},
		cancels:  []func(){coll.Subscribe(s.emit)},
		messages: coll,
	})
}

// WatchProfile loads and follows a user's profile row and posts.
func (s *Session) WatchProfile(ctx context.Context, userID string) (*Watch, error) {
	if userID == "" {
		return nil, models.NewValidationError("user id is required")
	}
	name := profilePostsCollection(userID)
	mine := userID == s.me
	posts := reconcile.NewCollection(name, reconcile.Rules[models.Post]{
		Less: func(a, b models.Post) bool { return a.CreatedAt.After(b.CreatedAt) },
		Keep: func(p models.Post) bool { return p.AuthorID == userID && (mine || p.IsPublished()) },
	})
	postsRec := reconcile.New[models.Post](models.TablePosts, posts, s.deps.Feed,
		func(ctx context.Context) ([]models.Post, error) {
			return s.deps.Posts.ListByAuthor(ctx, userID, s.deps.FeedLimit)
		},
		reconcile.WithFilters[models.Post](models.ScopedFilter(models.TablePosts, models.ScopeAuthor, userID)),
		reconcile.WithObserver[models.Post](s.tracker),
		reconcile.WithPending[models.Post](s.tracker.PendingFor(name)),
	)

	s.retainProfile(userID)
	return s.open(ctx, &Watch{
		s:       s,
		kind:    watchProfile,
		target:  userID,
		runners: []runner{s.profileReconciler(userID), postsRec},
		cancels: []func(){posts.Subscribe(s.emit)},
		release: func() { s.releaseProfile(userID) },
		posts:   posts,
	})
}

// watchesOf returns the open watches of kind on target.
func (s *Session) watchesOf(kind watchKind, target string) []*Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Watch
	for w := range s.watches {
		if w.kind == kind && (target == "" || w.target == target) {
			out = append(out, w)
		}
	}
	return out
}
