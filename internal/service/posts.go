package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"socialsync/internal/comments"
	"socialsync/internal/idempotency"
	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/reconcile"
	"socialsync/internal/validation"
)

// CreatePostInput is the body of a new post. Attachments are uploaded
// before the post is written and appended to MediaURLs.
type CreatePostInput struct {
	Title       string
	Description string
	Content     string
	MediaURLs   []string
	Tags        []string
	Draft       bool
	Attachments []Attachment
}

// CreatePost shows the post in the feed at once and writes it remotely.
func (s *Session) CreatePost(ctx context.Context, in CreatePostInput) (models.Post, *optimistic.Pending, error) {
	title, err := validation.ValidatePostTitle(in.Title)
	if err != nil {
		return models.Post{}, nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePostBody(in.Content, in.Tags); err != nil {
		return models.Post{}, nil, models.NewValidationError(err.Error())
	}
	refs, err := s.upload(ctx, in.Attachments)
	if err != nil {
		return models.Post{}, nil, err
	}

	now := time.Now().UTC()
	post := models.Post{
		ID:        uuid.NewString(),
		AuthorID:  s.me,
		Title:     title,
		MediaURLs: append(models.StringList(in.MediaURLs).Clone(), refs...),
		Tags:      models.StringList(in.Tags).Clone(),
		Status:    models.PostStatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Draft {
		post.Status = models.PostStatusDraft
	}
	if in.Description != "" {
		post.Description = &in.Description
	}
	if in.Content != "" {
		post.Content = &in.Content
	}

	steps := []optimistic.Step{reconcile.Stage(s.feed, reconcile.Insert(post))}
	for _, w := range s.watchesOf(watchProfile, s.me) {
		steps = append(steps, reconcile.Stage(w.posts, reconcile.Insert(post)))
	}
	p := s.apply(ctx, optimistic.Mutation{
		Name:  "create_post",
		Steps: steps,
		Write: func(ctx context.Context) error {
			row := post
			if err := s.deps.Posts.Create(ctx, &row); err != nil {
				s.discard(ctx, refs)
				return err
			}
			return nil
		},
	})
	return post, p, nil
}

func checkSubject(subject models.Subject) error {
	if subject.ID == "" {
		return models.NewValidationError("subject id is required")
	}
	switch subject.Type {
	case models.SubjectPost, models.SubjectComment:
		return nil
	}
	return models.NewValidationError("unknown like subject type")
}

func adjustPostLikes(delta int) func(models.Post) models.Post {
	return func(p models.Post) models.Post {
		p.LikeCount = max(p.LikeCount+delta, 0)
		return p
	}
}

func adjustPostComments(delta int) func(models.Post) models.Post {
	return func(p models.Post) models.Post {
		p.CommentCount = max(p.CommentCount+delta, 0)
		return p
	}
}

func adjustCommentLikes(delta int) func(models.Comment) models.Comment {
	return func(c models.Comment) models.Comment {
		c.LikeCount = max(c.LikeCount+delta, 0)
		return c
	}
}

// postSteps patches a post counter wherever the post is shown.
func (s *Session) postSteps(postID string, adjust func(int) func(models.Post) models.Post, delta int) []optimistic.Step {
	steps := []optimistic.Step{reconcile.Stage(s.feed, reconcile.Patch(postID, adjust(delta), adjust(-delta)))}
	for _, w := range s.watchesOf(watchProfile, "") {
		steps = append(steps, reconcile.Stage(w.posts, reconcile.Patch(postID, adjust(delta), adjust(-delta))))
	}
	return steps
}

func (s *Session) likeSteps(subject models.Subject, like bool) []optimistic.Step {
	var first optimistic.Step
	delta := 1
	if like {
		first = reconcile.Stage(s.likes, reconcile.Insert(models.Like{
			SubjectType: subject.Type,
			SubjectID:   subject.ID,
			UserID:      s.me,
			CreatedAt:   time.Now().UTC(),
		}))
	} else {
		delta = -1
		first = reconcile.Stage(s.likes, reconcile.Delete[models.Like](models.LikeKey(subject, s.me)))
	}

	steps := []optimistic.Step{first}
	switch subject.Type {
	case models.SubjectPost:
		steps = append(steps, s.postSteps(subject.ID, adjustPostLikes, delta)...)
	case models.SubjectComment:
		for _, w := range s.watchesOf(watchComments, "") {
			steps = append(steps, reconcile.Stage(w.comments,
				reconcile.Patch(subject.ID, adjustCommentLikes(delta), adjustCommentLikes(-delta))))
		}
	}
	return steps
}

// setLike must be called with actMu held.
func (s *Session) setLike(ctx context.Context, subject models.Subject, like bool) *optimistic.Pending {
	key := models.LikeKey(subject, s.me)
	if p := s.tracker.InFlight(LikesCollection, key); p != nil {
		return p
	}
	name := "like"
	if !like {
		name = "unlike"
	}
	if s.likes.Has(key) == like {
		return optimistic.Settled(name, nil)
	}

	return s.apply(ctx, optimistic.Mutation{
		Name:  name,
		Steps: s.likeSteps(subject, like),
		Write: func(ctx context.Context) error {
			var outcome idempotency.Outcome
			var err error
			if like {
				row := models.Like{SubjectType: subject.Type, SubjectID: subject.ID, UserID: s.me}
				outcome, err = s.guard.Insert(ctx, name, func(ctx context.Context) error {
					return s.deps.Likes.Insert(ctx, &row)
				})
			} else {
				outcome, err = s.guard.Delete(ctx, name, func(ctx context.Context) error {
					return s.deps.Likes.Delete(ctx, subject, s.me)
				})
			}
			if err != nil {
				return err
			}
			if outcome == idempotency.AlreadyApplied && s.refetchOnDuplicate() {
				refetch[models.Like](ctx, s, s.likes, key, func(ctx context.Context) (*models.Like, error) {
					return s.deps.Likes.Get(ctx, subject, s.me)
				})
				if subject.Type == models.SubjectPost {
					s.refreshPost(ctx, subject.ID)
				} else {
					s.refreshComment(ctx, subject.ID)
				}
			}
			return nil
		},
	})
}

// Like likes subject. Repeating it while liked, or while the first call is
// in flight, does nothing more.
func (s *Session) Like(ctx context.Context, subject models.Subject) (*optimistic.Pending, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.setLike(ctx, subject, true), nil
}

// Unlike removes my like from subject.
func (s *Session) Unlike(ctx context.Context, subject models.Subject) (*optimistic.Pending, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.setLike(ctx, subject, false), nil
}

// ToggleLike flips my like on subject. A toggle fired while the previous
// one is still in flight coalesces onto it.
func (s *Session) ToggleLike(ctx context.Context, subject models.Subject) (*optimistic.Pending, error) {
	if err := checkSubject(subject); err != nil {
		return nil, err
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if p := s.tracker.InFlight(LikesCollection, models.LikeKey(subject, s.me)); p != nil {
		return p, nil
	}
	return s.setLike(ctx, subject, !s.IsLiked(subject)), nil
}

// LikePost likes a post.
func (s *Session) LikePost(ctx context.Context, postID string) (*optimistic.Pending, error) {
	return s.Like(ctx, models.Subject{Type: models.SubjectPost, ID: postID})
}

// UnlikePost removes my like from a post.
func (s *Session) UnlikePost(ctx context.Context, postID string) (*optimistic.Pending, error) {
	return s.Unlike(ctx, models.Subject{Type: models.SubjectPost, ID: postID})
}

// TogglePostLike flips my like on a post.
func (s *Session) TogglePostLike(ctx context.Context, postID string) (*optimistic.Pending, error) {
	return s.ToggleLike(ctx, models.Subject{Type: models.SubjectPost, ID: postID})
}

// ToggleCommentLike flips my like on a comment.
func (s *Session) ToggleCommentLike(ctx context.Context, commentID string) (*optimistic.Pending, error) {
	return s.ToggleLike(ctx, models.Subject{Type: models.SubjectComment, ID: commentID})
}

// findComment looks in open comment watches before asking the store.
func (s *Session) findComment(ctx context.Context, postID, commentID string) (models.Comment, error) {
	for _, w := range s.watchesOf(watchComments, postID) {
		if c, ok := w.comments.Get(commentID); ok {
			return c, nil
		}
	}
	c, err := s.deps.Comments.GetByID(ctx, commentID)
	if err != nil {
		return models.Comment{}, err
	}
	return *c, nil
}

// AddComment adds a root comment, or a reply when parentID is set. A reply
// to a reply is rejected before anything is written.
func (s *Session) AddComment(ctx context.Context, postID, text, parentID string) (models.Comment, *optimistic.Pending, error) {
	if postID == "" {
		return models.Comment{}, nil, models.NewValidationError("post id is required")
	}
	text, err := validation.ValidateCommentText(text)
	if err != nil {
		return models.Comment{}, nil, models.NewValidationError(err.Error())
	}

	now := time.Now().UTC()
	comment := models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  s.me,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if parentID != "" {
		parent, err := s.findComment(ctx, postID, parentID)
		if err != nil {
			return models.Comment{}, nil, err
		}
		if err := comments.ValidateParent(parent, postID); err != nil {
			return models.Comment{}, nil, err
		}
		comment.ParentCommentID = &parentID
	}

	var steps []optimistic.Step
	for _, w := range s.watchesOf(watchComments, postID) {
		steps = append(steps, reconcile.Stage(w.comments, reconcile.Insert(comment)))
	}
	steps = append(steps, s.postSteps(postID, adjustPostComments, 1)...)

	p := s.apply(ctx, optimistic.Mutation{
		Name:  "add_comment",
		Steps: steps,
		Write: func(ctx context.Context) error {
			row := comment
			return s.deps.Comments.Create(ctx, &row)
		},
	})
	return comment, p, nil
}
