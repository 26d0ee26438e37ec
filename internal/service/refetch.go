package service

import (
	"context"

	"socialsync/internal/models"
	"socialsync/internal/reconcile"
)

// refetch reads the authoritative row behind key and applies it: present
// rows are inserted, missing ones deleted.
func refetch[T reconcile.Keyed](ctx context.Context, s *Session, sink reconcile.Sink[T], key string, get func(context.Context) (*T, error)) {
	row, err := get(ctx)
	switch {
	case err == nil:
		sink.Apply(reconcile.Insert(*row), reconcile.OriginResync)
	case models.IsNotFound(err):
		sink.Apply(reconcile.Delete[T](key), reconcile.OriginResync)
	default:
		s.logger.LogWarn(ctx, "refetch after duplicate failed", err, map[string]interface{}{
			"collection": sink.Name(),
			"key":        key,
		})
	}
}

// refresh applies the authoritative row as an update, so rows outside the
// loaded window stay out.
func refresh[T reconcile.Keyed](ctx context.Context, s *Session, get func(context.Context) (*T, error), sinks ...reconcile.Sink[T]) {
	row, err := get(ctx)
	if err != nil {
		if !models.IsNotFound(err) {
			s.logger.LogWarn(ctx, "refresh after duplicate failed", err, nil)
		}
		return
	}
	for _, sink := range sinks {
		sink.Apply(reconcile.Update(*row), reconcile.OriginResync)
	}
}

func (s *Session) refreshPost(ctx context.Context, postID string) {
	sinks := []reconcile.Sink[models.Post]{s.feed}
	for _, w := range s.watchesOf(watchProfile, "") {
		sinks = append(sinks, w.posts)
	}
	refresh(ctx, s, func(ctx context.Context) (*models.Post, error) {
		return s.deps.Posts.GetByID(ctx, postID)
	}, sinks...)
}

func (s *Session) refreshComment(ctx context.Context, commentID string) {
	var sinks []reconcile.Sink[models.Comment]
	for _, w := range s.watchesOf(watchComments, "") {
		sinks = append(sinks, w.comments)
	}
	if len(sinks) == 0 {
		return
	}
	refresh(ctx, s, func(ctx context.Context) (*models.Comment, error) {
		return s.deps.Comments.GetByID(ctx, commentID)
	}, sinks...)
}

func (s *Session) refreshProfiles(ctx context.Context, ids ...string) {
	for _, id := range ids {
		refresh(ctx, s, func(ctx context.Context) (*models.User, error) {
			return s.deps.Users.GetByID(ctx, id)
		}, reconcile.Sink[models.User](s.graph.Profiles()))
	}
}

func (s *Session) refreshCommunity(ctx context.Context, communityID string) {
	refresh(ctx, s, func(ctx context.Context) (*models.Community, error) {
		return s.deps.Communities.GetByID(ctx, communityID)
	}, reconcile.Sink[models.Community](s.communities))
}
