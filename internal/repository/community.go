package repository

import (
	"context"

	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// CommunityRepository defines the interface for community and membership operations.
type CommunityRepository interface {
	// CreateWithOwner inserts the community and the owner's admin
	// membership in one transaction.
	CreateWithOwner(ctx context.Context, community *models.Community) (*models.Membership, error)
	GetByID(ctx context.Context, id string) (*models.Community, error)
	List(ctx context.Context, limit int) ([]models.Community, error)
	Join(ctx context.Context, membership *models.Membership) error
	Leave(ctx context.Context, communityID, userID string) error
	GetMembership(ctx context.Context, communityID, userID string) (*models.Membership, error)
	MembershipsFor(ctx context.Context, userID string) ([]models.Membership, error)
}

type communityRepository struct {
	db  *gorm.DB
	pub Publisher
	log *observability.RepoLogger
}

// NewCommunityRepository creates a new community repository
func NewCommunityRepository(db *gorm.DB, pub Publisher) CommunityRepository {
	return &communityRepository{db: db, pub: publisherOrNop(pub), log: observability.NewRepoLogger(models.TableCommunities)}
}

func (r *communityRepository) CreateWithOwner(ctx context.Context, community *models.Community) (*models.Membership, error) {
	defer observability.TrackQuery("create", models.TableCommunities)()
	community.MemberCount = 0
	var cs changeSet
	var owner models.Membership
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(community).Error; err != nil {
			return err
		}
		owner = models.Membership{
			CommunityID: community.ID,
			UserID:      community.OwnerID,
			Role:        models.MembershipRoleAdmin,
		}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		c, err := refreshMemberCount(tx, community.ID)
		if err != nil {
			return err
		}
		*community = c
		cs.add(models.TableCommunities, models.ChangeInsert, c)
		cs.add(models.TableMemberships, models.ChangeInsert, owner, membershipScopes(owner)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"id": community.ID, "owner_id": community.OwnerID})
	publish(ctx, r.pub, cs)
	return &owner, nil
}

func (r *communityRepository) GetByID(ctx context.Context, id string) (*models.Community, error) {
	defer observability.TrackQuery("get", models.TableCommunities)()
	var c models.Community
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "Community", id)
	}
	return &c, nil
}

func (r *communityRepository) List(ctx context.Context, limit int) ([]models.Community, error) {
	defer observability.TrackQuery("list", models.TableCommunities)()
	var out []models.Community
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *communityRepository) Join(ctx context.Context, m *models.Membership) error {
	defer observability.TrackQuery("create", models.TableMemberships)()
	if m.Role == "" {
		m.Role = models.MembershipRoleMember
	}
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		cs.add(models.TableMemberships, models.ChangeInsert, *m, membershipScopes(*m)...)
		c, err := refreshMemberCount(tx, m.CommunityID)
		if err != nil {
			return err
		}
		cs.add(models.TableCommunities, models.ChangeUpdate, c)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.LogCreate(ctx, map[string]interface{}{"key": m.Key()})
	publish(ctx, r.pub, cs)
	return nil
}

func (r *communityRepository) Leave(ctx context.Context, communityID, userID string) error {
	defer observability.TrackQuery("delete", models.TableMemberships)()
	var cs changeSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Membership
		if err := tx.Where("community_id = ? AND user_id = ?", communityID, userID).First(&m).Error; err != nil {
			return notFound(err, "Membership", models.MembershipKey(communityID, userID))
		}
		if err := tx.Where("community_id = ? AND user_id = ?", communityID, userID).
			Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		cs.add(models.TableMemberships, models.ChangeDelete, m, membershipScopes(m)...)
		c, err := refreshMemberCount(tx, communityID)
		if err != nil {
			return err
		}
		cs.add(models.TableCommunities, models.ChangeUpdate, c)
		return nil
	})
	if err != nil {
		return err
	}
	r.log.LogDelete(ctx, map[string]interface{}{"key": models.MembershipKey(communityID, userID)})
	publish(ctx, r.pub, cs)
	return nil
}

func (r *communityRepository) GetMembership(ctx context.Context, communityID, userID string) (*models.Membership, error) {
	defer observability.TrackQuery("get", models.TableMemberships)()
	var m models.Membership
	err := r.db.WithContext(ctx).Where("community_id = ? AND user_id = ?", communityID, userID).First(&m).Error
	if err != nil {
		return nil, notFound(err, "Membership", models.MembershipKey(communityID, userID))
	}
	return &m, nil
}

func (r *communityRepository) MembershipsFor(ctx context.Context, userID string) ([]models.Membership, error) {
	defer observability.TrackQuery("list", models.TableMemberships)()
	var out []models.Membership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&out).Error
	return out, err
}

func refreshMemberCount(tx *gorm.DB, communityID string) (models.Community, error) {
	var n int64
	if err := tx.Model(&models.Membership{}).Where("community_id = ?", communityID).Count(&n).Error; err != nil {
		return models.Community{}, err
	}
	if err := tx.Model(&models.Community{}).Where("id = ?", communityID).Update("member_count", n).Error; err != nil {
		return models.Community{}, err
	}
	var c models.Community
	if err := tx.First(&c, "id = ?", communityID).Error; err != nil {
		return models.Community{}, notFound(err, "Community", communityID)
	}
	return c, nil
}
