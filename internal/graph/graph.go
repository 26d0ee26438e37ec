// Package graph caches the current user's follow edges and community
// memberships for synchronous membership checks.
package graph

import (
	"time"

	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/reconcile"
)

// Collection names.
const (
	EdgesCollection       = "follows"
	ProfilesCollection    = "profiles"
	MembershipsCollection = "memberships"
)

// Graph holds, for one user, every follow edge touching them, the profiles
// they looked at and their community memberships.
type Graph struct {
	me          string
	edges       *reconcile.Collection[models.Follow]
	profiles    *reconcile.Collection[models.User]
	memberships *reconcile.Collection[models.Membership]
}

// New creates an empty graph for me.
func New(me string) *Graph {
	return &Graph{
		me: me,
		edges: reconcile.NewCollection(EdgesCollection, reconcile.Rules[models.Follow]{
			Less: func(a, b models.Follow) bool { return a.CreatedAt.After(b.CreatedAt) },
			Keep: func(f models.Follow) bool {
				return f.FollowerID != f.FollowingID && (f.FollowerID == me || f.FollowingID == me)
			},
		}),
		profiles: reconcile.NewCollection[models.User](ProfilesCollection, reconcile.Rules[models.User]{}),
		memberships: reconcile.NewCollection(MembershipsCollection, reconcile.Rules[models.Membership]{
			Keep: func(m models.Membership) bool { return m.UserID == me },
		}),
	}
}

// Me returns the id of the user the graph belongs to.
func (g *Graph) Me() string { return g.me }

// Edges returns the follow edge collection.
func (g *Graph) Edges() *reconcile.Collection[models.Follow] { return g.edges }

// Profiles returns the profile collection.
func (g *Graph) Profiles() *reconcile.Collection[models.User] { return g.profiles }

// Memberships returns the membership collection.
func (g *Graph) Memberships() *reconcile.Collection[models.Membership] { return g.memberships }

// IsFollowing reports whether I follow id.
func (g *Graph) IsFollowing(id string) bool {
	return g.edges.Has(models.FollowKey(g.me, id))
}

// IsFollowedBy reports whether id follows me.
func (g *Graph) IsFollowedBy(id string) bool {
	return g.edges.Has(models.FollowKey(id, g.me))
}

// Following returns the ids I follow, most recent first.
func (g *Graph) Following() []string {
	var out []string
	for _, f := range g.edges.Filter(func(f models.Follow) bool { return f.FollowerID == g.me }) {
		out = append(out, f.FollowingID)
	}
	return out
}

// Followers returns the ids following me, most recent first.
func (g *Graph) Followers() []string {
	var out []string
	for _, f := range g.edges.Filter(func(f models.Follow) bool { return f.FollowingID == g.me }) {
		out = append(out, f.FollowerID)
	}
	return out
}

// FollowingCount is derived from the edge set.
func (g *Graph) FollowingCount() int {
	return g.edges.Count(func(f models.Follow) bool { return f.FollowerID == g.me })
}

// FollowerCount is derived from the edge set.
func (g *Graph) FollowerCount() int {
	return g.edges.Count(func(f models.Follow) bool { return f.FollowingID == g.me })
}

// Profile returns a cached profile.
func (g *Graph) Profile(id string) (models.User, bool) {
	return g.profiles.Get(id)
}

// IsMember reports whether I belong to the community.
func (g *Graph) IsMember(communityID string) bool {
	return g.memberships.Has(models.MembershipKey(communityID, g.me))
}

// Role returns my role in the community.
func (g *Graph) Role(communityID string) (models.MembershipRole, bool) {
	m, ok := g.memberships.Get(models.MembershipKey(communityID, g.me))
	return m.Role, ok
}

// CommunityIDs returns the communities I belong to.
func (g *Graph) CommunityIDs() []string {
	var out []string
	for _, m := range g.memberships.Items() {
		out = append(out, m.CommunityID)
	}
	return out
}

func (g *Graph) checkTarget(target string) error {
	if target == "" || target == g.me {
		return models.NewMalformedError("cannot follow yourself", models.ErrSelfRelationship)
	}
	return nil
}

func adjustFollowers(delta int) func(models.User) models.User {
	return func(u models.User) models.User {
		u.FollowerCount = max(u.FollowerCount+delta, 0)
		return u
	}
}

func adjustFollowing(delta int) func(models.User) models.User {
	return func(u models.User) models.User {
		u.FollowingCount = max(u.FollowingCount+delta, 0)
		return u
	}
}

// FollowSteps returns the local changes of following target: the edge plus
// the displayed counters of both profiles.
func (g *Graph) FollowSteps(target string) ([]optimistic.Step, error) {
	if err := g.checkTarget(target); err != nil {
		return nil, err
	}
	edge := models.Follow{FollowerID: g.me, FollowingID: target, CreatedAt: time.Now().UTC()}
	return []optimistic.Step{
		reconcile.Stage(g.edges, reconcile.Insert(edge)),
		reconcile.Stage(g.profiles, reconcile.Patch(target, adjustFollowers(1), adjustFollowers(-1))),
		reconcile.Stage(g.profiles, reconcile.Patch(g.me, adjustFollowing(1), adjustFollowing(-1))),
	}, nil
}

// UnfollowSteps returns the local changes of unfollowing target.
func (g *Graph) UnfollowSteps(target string) ([]optimistic.Step, error) {
	if err := g.checkTarget(target); err != nil {
		return nil, err
	}
	return []optimistic.Step{
		reconcile.Stage(g.edges, reconcile.Delete[models.Follow](models.FollowKey(g.me, target))),
		reconcile.Stage(g.profiles, reconcile.Patch(target, adjustFollowers(-1), adjustFollowers(1))),
		reconcile.Stage(g.profiles, reconcile.Patch(g.me, adjustFollowing(-1), adjustFollowing(1))),
	}, nil
}

// JoinStep returns the local membership insert for a community.
func (g *Graph) JoinStep(communityID string, role models.MembershipRole) optimistic.Step {
	return reconcile.Stage(g.memberships, reconcile.Insert(models.Membership{
		CommunityID: communityID,
		UserID:      g.me,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}))
}

// LeaveStep returns the local membership delete for a community.
func (g *Graph) LeaveStep(communityID string) optimistic.Step {
	return reconcile.Stage(g.memberships, reconcile.Delete[models.Membership](models.MembershipKey(communityID, g.me)))
}
