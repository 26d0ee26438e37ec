package repository

import (
	"context"

	"socialsync/internal/cache"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// UserRepository reads user profiles. Users are owned by the identity
// provider; Create exists for seeding.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db    *gorm.DB
	pub   Publisher
	cache *cache.Cache
	log   *observability.RepoLogger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB, pub Publisher, c *cache.Cache) UserRepository {
	return &userRepository{db: db, pub: publisherOrNop(pub), cache: c, log: observability.NewRepoLogger(models.TableUsers)}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("create", models.TableUsers)()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": user.ID})
	publish(ctx, r.pub, changeSet{{table: models.TableUsers, op: models.ChangeInsert, row: *user, scopes: userScopes(*user)}})
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.cache.Aside(ctx, cache.UserKey(id), &user, cache.UserTTL, func() error {
		defer observability.TrackQuery("get", models.TableUsers)()
		return r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("list", models.TableUsers)()
	var users []models.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error
	return users, err
}

// Update saves display fields only; counters belong to the follow writes.
func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("update", models.TableUsers)()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"display_name": user.DisplayName,
			"avatar_url":   user.AvatarURL,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", user.ID)
	}
	r.cache.Invalidate(ctx, cache.UserKey(user.ID))

	var fresh models.User
	if err := r.db.WithContext(ctx).First(&fresh, "id = ?", user.ID).Error; err != nil {
		return err
	}
	*user = fresh
	r.log.LogUpdate(ctx, map[string]interface{}{"id": user.ID})
	publish(ctx, r.pub, changeSet{{table: models.TableUsers, op: models.ChangeUpdate, row: fresh, scopes: userScopes(fresh)}})
	return nil
}

// refreshUserCounts re-derives a user's follow counters inside tx.
func refreshUserCounts(tx *gorm.DB, userID string) (models.User, error) {
	var followers, following int64
	if err := tx.Model(&models.Follow{}).Where("following_id = ?", userID).Count(&followers).Error; err != nil {
		return models.User{}, err
	}
	if err := tx.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&following).Error; err != nil {
		return models.User{}, err
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"follower_count": followers, "following_count": following}).Error; err != nil {
		return models.User{}, err
	}
	var u models.User
	err := tx.First(&u, "id = ?", userID).Error
	return u, err
}
