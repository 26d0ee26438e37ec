package repository

import (
	"context"

	"socialsync/internal/cache"
	"socialsync/internal/comments"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByPost(ctx context.Context, postID string) ([]models.Comment, error)
}

type commentRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB, pub Publisher, c *cache.Cache) CommentRepository {
	return &commentRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TableComments)}
}

// Create inserts comment and re-derives the post's comment count. A reply
// whose parent is itself a reply is rejected.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("create", models.TableComments)()
	comment.LikeCount = 0
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !comment.IsRoot() {
			var parent models.Comment
			if err := tx.First(&parent, "id = ?", *comment.ParentCommentID).Error; err != nil {
				return notFound(err, "Comment", *comment.ParentCommentID)
			}
			if err := comments.ValidateParent(parent, comment.PostID); err != nil {
				return err
			}
		}
		if err := tx.Create(comment).Error; err != nil {
			return err
		}
		cs.add(models.TableComments, models.ChangeInsert, *comment, commentScopes(*comment)...)
		p, err := refreshPostCounts(tx, comment.PostID)
		if err != nil {
			return err
		}
		cs.add(models.TablePosts, models.ChangeUpdate, p, postScopes(p)...)
		return nil
	})
	if err != nil {
		return err
	}
	r.cache.Invalidate(ctx, cache.PostKey(comment.PostID))
	r.log.LogCreate(ctx, map[string]interface{}{"id": comment.ID, "post_id": comment.PostID})
	publish(ctx, r.pub, cs)
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	defer observability.TrackQuery("get", models.TableComments)()
	var c models.Comment
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Comment", id)
	}
	return &c, nil
}

// ListByPost returns every comment of a post, oldest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	defer observability.TrackQuery("list", models.TableComments)()
	var out []models.Comment
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func refreshCommentCounts(tx *gorm.DB, commentID string) (models.Comment, error) {
	var likes int64
	if err := tx.Model(&models.Like{}).
		Where("subject_type = ? AND subject_id = ?", models.SubjectComment, commentID).
		Count(&likes).Error; err != nil {
		return models.Comment{}, err
	}
	if err := tx.Model(&models.Comment{}).Where("id = ?", commentID).Update("like_count", likes).Error; err != nil {
		return models.Comment{}, err
	}
	var c models.Comment
	if err := tx.First(&c, "id = ?", commentID).Error; err != nil {
		return models.Comment{}, notFound(err, "Comment", commentID)
	}
	return c, nil
}
