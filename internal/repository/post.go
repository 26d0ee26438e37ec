package repository

import (
	"context"

	"socialsync/internal/cache"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListPublished(ctx context.Context, limit int) ([]models.Post, error)
	ListByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error)
	Delete(ctx context.Context, id string) error
}

type postRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB, pub Publisher, c *cache.Cache) PostRepository {
	return &postRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TablePosts)}
}

// Create inserts post. Counters always start at zero; the store owns them.
func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", models.TablePosts)()
	post.LikeCount, post.CommentCount = 0, 0
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": post.ID, "author_id": post.AuthorID})
	publish(ctx, r.pub, changeSet{{table: models.TablePosts, op: models.ChangeInsert, row: *post, scopes: postScopes(*post)}})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := r.cache.Aside(ctx, cache.PostKey(id), &post, cache.PostTTL, func() error {
		defer observability.TrackQuery("get", models.TablePosts)()
		return r.db.WithContext(ctx).First(&post, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) ListPublished(ctx context.Context, limit int) ([]models.Post, error) {
	defer observability.TrackQuery("list", models.TablePosts)()
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PostStatusPublished).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, limit int) ([]models.Post, error) {
	defer observability.TrackQuery("list", models.TablePosts)()
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// Delete removes a post with its comments and likes.
func (r *postRepository) Delete(ctx context.Context, id string) error {
	defer observability.TrackQuery("delete", models.TablePosts)()
	var post models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, "id = ?", id).Error; err != nil {
			return notFound(err, "Post", id)
		}
		if err := tx.Where("subject_type = ? AND subject_id IN (?)", models.SubjectComment,
			tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", id)).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("subject_type = ? AND subject_id = ?", models.SubjectPost, id).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}
	r.cache.Invalidate(ctx, cache.PostKey(id))
	r.log.LogDelete(ctx, map[string]interface{}{"id": id})
	publish(ctx, r.pub, changeSet{{table: models.TablePosts, op: models.ChangeDelete, row: post, scopes: postScopes(post)}})
	return nil
}

// refreshPostCounts re-derives a post's like and comment counters inside tx.
func refreshPostCounts(tx *gorm.DB, postID string) (models.Post, error) {
	var likes, comments int64
	if err := tx.Model(&models.Like{}).
		Where("subject_type = ? AND subject_id = ?", models.SubjectPost, postID).
		Count(&likes).Error; err != nil {
		return models.Post{}, err
	}
	if err := tx.Model(&models.Comment{}).Where("post_id = ?", postID).Count(&comments).Error; err != nil {
		return models.Post{}, err
	}
	if err := tx.Model(&models.Post{}).Where("id = ?", postID).
		Updates(map[string]interface{}{"like_count": likes, "comment_count": comments}).Error; err != nil {
		return models.Post{}, err
	}
	var p models.Post
	if err := tx.First(&p, "id = ?", postID).Error; err != nil {
		return models.Post{}, notFound(err, "Post", postID)
	}
	return p, nil
}
