package models

import "time"

// MembershipRole defines a member's role in a community.
type MembershipRole string

const (
	// MembershipRoleAdmin is held by the community creator.
	MembershipRoleAdmin MembershipRole = "admin"
	// MembershipRoleModerator can moderate community content.
	MembershipRoleModerator MembershipRole = "moderator"
	// MembershipRoleMember is the default member role.
	MembershipRoleMember MembershipRole = "member"
)

// Membership maps users to communities and tracks role.
type Membership struct {
	CommunityID string         `gorm:"type:varchar(36);primaryKey" json:"community_id"`
	UserID      string         `gorm:"type:varchar(36);primaryKey;index" json:"user_id"`
	Role        MembershipRole `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Membership) TableName() string {
	return "community_memberships"
}

// MembershipKey builds the cache key for a membership.
func MembershipKey(communityID, userID string) string {
	return communityID + ":" + userID
}

// Key returns the cache key of the membership.
func (m Membership) Key() string { return MembershipKey(m.CommunityID, m.UserID) }
