package repository

import (
	"context"

	"socialsync/internal/cache"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// LikeRepository writes likes on posts and comments. Insert surfaces the
// store's uniqueness violation unchanged so callers can classify it.
// maxLikeList caps one ListByUser page.
const maxLikeList = 1000

type LikeRepository interface {
	Insert(ctx context.Context, like *models.Like) error
	Delete(ctx context.Context, subject models.Subject, userID string) error
	Get(ctx context.Context, subject models.Subject, userID string) (*models.Like, error)
	// ListByUser returns the user's most recent likes, at most limit of them.
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Like, error)
}

type likeRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewLikeRepository creates a new like repository
func NewLikeRepository(db *gorm.DB, pub Publisher, c *cache.Cache) LikeRepository {
	return &likeRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TableLikes)}
}

func (r *likeRepository) Insert(ctx context.Context, like *models.Like) error {
	defer observability.TrackQuery("create", models.TableLikes)()
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(like).Error; err != nil {
			return err
		}
		cs.add(models.TableLikes, models.ChangeInsert, *like, likeScopes(*like)...)
		return refreshSubject(tx, like.Subject(), &cs)
	})
	if err != nil {
		return err
	}
	r.after(ctx, like.Subject(), cs)
	r.log.LogCreate(ctx, map[string]interface{}{"key": like.Key()})
	return nil
}

func (r *likeRepository) Delete(ctx context.Context, subject models.Subject, userID string) error {
	defer observability.TrackQuery("delete", models.TableLikes)()
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var like models.Like
		if err := tx.Where("subject_type = ? AND subject_id = ? AND user_id = ?", subject.Type, subject.ID, userID).
			First(&like).Error; err != nil {
			return notFound(err, "Like", models.LikeKey(subject, userID))
		}
		if err := tx.Where("subject_type = ? AND subject_id = ? AND user_id = ?", subject.Type, subject.ID, userID).
			Delete(&models.Like{}).Error; err != nil {
			return err
		}
		cs.add(models.TableLikes, models.ChangeDelete, like, likeScopes(like)...)
		return refreshSubject(tx, subject, &cs)
	})
	if err != nil {
		return err
	}
	r.after(ctx, subject, cs)
	r.log.LogDelete(ctx, map[string]interface{}{"key": models.LikeKey(subject, userID)})
	return nil
}

func (r *likeRepository) after(ctx context.Context, subject models.Subject, cs changeSet) {
	if subject.Type == models.SubjectPost {
		r.cache.Invalidate(ctx, cache.PostKey(subject.ID))
	}
	publish(ctx, r.pub, cs)
}

func (r *likeRepository) Get(ctx context.Context, subject models.Subject, userID string) (*models.Like, error) {
	defer observability.TrackQuery("get", models.TableLikes)()
	var like models.Like
	err := r.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ? AND user_id = ?", subject.Type, subject.ID, userID).
		First(&like).Error
	if err != nil {
		return nil, notFound(err, "Like", models.LikeKey(subject, userID))
	}
	return &like, nil
}

func (r *likeRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Like, error) {
	defer observability.TrackQuery("list", models.TableLikes)()
	if limit <= 0 || limit > maxLikeList {
		limit = maxLikeList
	}
	var likes []models.Like
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&likes).Error
	return likes, err
}

// refreshSubject re-derives the like counter of the liked row and records
// its update.
func refreshSubject(tx *gorm.DB, s models.Subject, cs *changeSet) error {
	switch s.Type {
	case models.SubjectPost:
		p, err := refreshPostCounts(tx, s.ID)
		if err != nil {
			return err
		}
		cs.add(models.TablePosts, models.ChangeUpdate, p, postScopes(p)...)
	case models.SubjectComment:
		c, err := refreshCommentCounts(tx, s.ID)
		if err != nil {
			return err
		}
		cs.add(models.TableComments, models.ChangeUpdate, c, commentScopes(c)...)
	default:
		return models.NewValidationError("unknown like subject type " + string(s.Type))
	}
	return nil
}
