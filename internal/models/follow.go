package models

import "time"

// Follow is a directed edge follower -> following.
type Follow struct {
	FollowerID  string    `gorm:"type:varchar(36);primaryKey;check:chk_follows_no_self,follower_id <> following_id" json:"follower_id"`
	FollowingID string    `gorm:"type:varchar(36);primaryKey;index" json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// FollowKey builds the cache key for an edge.
func FollowKey(followerID, followingID string) string {
	return followerID + "->" + followingID
}

// Key returns the cache key of the edge.
func (f Follow) Key() string { return FollowKey(f.FollowerID, f.FollowingID) }
