package repository

import (
	"context"

	"socialsync/internal/cache"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// FollowRepository writes directed follow edges and keeps both users'
// counters derived from the edge table.
type FollowRepository interface {
	Insert(ctx context.Context, follow *models.Follow) error
	Delete(ctx context.Context, followerID, followingID string) error
	Get(ctx context.Context, followerID, followingID string) (*models.Follow, error)
	ListTouching(ctx context.Context, userID string) ([]models.Follow, error)
}

type followRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *gorm.DB, pub Publisher, c *cache.Cache) FollowRepository {
	return &followRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TableFollows)}
}

func (r *followRepository) Insert(ctx context.Context, follow *models.Follow) error {
	if follow.FollowerID == follow.FollowingID {
		return models.NewMalformedError("cannot follow yourself", models.ErrSelfRelationship)
	}
	defer observability.TrackQuery("create", models.TableFollows)()
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(follow).Error; err != nil {
			return err
		}
		cs.add(models.TableFollows, models.ChangeInsert, *follow, followScopes(*follow)...)
		return refreshEdgeUsers(tx, *follow, &cs)
	})
	if err != nil {
		return err
	}
	r.after(ctx, *follow, cs)
	r.log.LogCreate(ctx, map[string]interface{}{"key": follow.Key()})
	return nil
}

func (r *followRepository) Delete(ctx context.Context, followerID, followingID string) error {
	defer observability.TrackQuery("delete", models.TableFollows)()
	var cs changeSet
	var edge models.Follow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).First(&edge).Error; err != nil {
			return notFound(err, "Follow", models.FollowKey(followerID, followingID))
		}
		if err := tx.Where("follower_id = ? AND following_id = ?", followerID, followingID).
			Delete(&models.Follow{}).Error; err != nil {
			return err
		}
		cs.add(models.TableFollows, models.ChangeDelete, edge, followScopes(edge)...)
		return refreshEdgeUsers(tx, edge, &cs)
	})
	if err != nil {
		return err
	}
	r.after(ctx, edge, cs)
	r.log.LogDelete(ctx, map[string]interface{}{"key": edge.Key()})
	return nil
}

func (r *followRepository) after(ctx context.Context, f models.Follow, cs changeSet) {
	r.cache.Invalidate(ctx, cache.UserKey(f.FollowerID), cache.UserKey(f.FollowingID))
	publish(ctx, r.pub, cs)
}

func refreshEdgeUsers(tx *gorm.DB, f models.Follow, cs *changeSet) error {
	for _, id := range []string{f.FollowerID, f.FollowingID} {
		u, err := refreshUserCounts(tx, id)
		if err != nil {
			return notFound(err, "User", id)
		}
		cs.add(models.TableUsers, models.ChangeUpdate, u, userScopes(u)...)
	}
	return nil
}

func (r *followRepository) Get(ctx context.Context, followerID, followingID string) (*models.Follow, error) {
	defer observability.TrackQuery("get", models.TableFollows)()
	var f models.Follow
	err := r.db.WithContext(ctx).Where("follower_id = ? AND following_id = ?", followerID, followingID).First(&f).Error
	if err != nil {
		return nil, notFound(err, "Follow", models.FollowKey(followerID, followingID))
	}
	return &f, nil
}

// ListTouching returns every edge where userID is either side.
func (r *followRepository) ListTouching(ctx context.Context, userID string) ([]models.Follow, error) {
	defer observability.TrackQuery("list", models.TableFollows)()
	var out []models.Follow
	err := r.db.WithContext(ctx).
		Where("follower_id = ? OR following_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}
