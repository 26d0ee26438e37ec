package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"socialsync/internal/graph"
	"socialsync/internal/idempotency"
	"socialsync/internal/models"
	"socialsync/internal/optimistic"
	"socialsync/internal/reconcile"
	"socialsync/internal/validation"
)

// setFollow must be called with actMu held.
func (s *Session) setFollow(ctx context.Context, target string, follow bool) (*optimistic.Pending, error) {
	key := models.FollowKey(s.me, target)
	if p := s.tracker.InFlight(graph.EdgesCollection, key); p != nil {
		return p, nil
	}

	var steps []optimistic.Step
	var err error
	name := "follow"
	if follow {
		steps, err = s.graph.FollowSteps(target)
	} else {
		name = "unfollow"
		steps, err = s.graph.UnfollowSteps(target)
	}
	if err != nil {
		return nil, err
	}
	if s.graph.IsFollowing(target) == follow {
		return optimistic.Settled(name, nil), nil
	}

	return s.apply(ctx, optimistic.Mutation{
		Name:  name,
		Steps: steps,
		Write: func(ctx context.Context) error {
			var outcome idempotency.Outcome
			var err error
			if follow {
				edge := models.Follow{FollowerID: s.me, FollowingID: target}
				outcome, err = s.guard.Insert(ctx, name, func(ctx context.Context) error {
					return s.deps.Follows.Insert(ctx, &edge)
				})
			} else {
				outcome, err = s.guard.Delete(ctx, name, func(ctx context.Context) error {
					return s.deps.Follows.Delete(ctx, s.me, target)
				})
			}
			if err != nil {
				return err
			}
			if outcome == idempotency.AlreadyApplied && s.refetchOnDuplicate() {
				refetch[models.Follow](ctx, s, s.graph.Edges(), key, func(ctx context.Context) (*models.Follow, error) {
					return s.deps.Follows.Get(ctx, s.me, target)
				})
				s.refreshProfiles(ctx, target, s.me)
			}
			return nil
		},
	}), nil
}

// Follow follows target.
func (s *Session) Follow(ctx context.Context, target string) (*optimistic.Pending, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.setFollow(ctx, target, true)
}

// Unfollow stops following target.
func (s *Session) Unfollow(ctx context.Context, target string) (*optimistic.Pending, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.setFollow(ctx, target, false)
}

// ToggleFollow flips whether I follow target.
func (s *Session) ToggleFollow(ctx context.Context, target string) (*optimistic.Pending, error) {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	if p := s.tracker.InFlight(graph.EdgesCollection, models.FollowKey(s.me, target)); p != nil {
		return p, nil
	}
	return s.setFollow(ctx, target, !s.graph.IsFollowing(target))
}

// CreateCommunityInput describes a new community.
type CreateCommunityInput struct {
	Name        string
	Category    string
	Description string
}

func adjustMembers(delta int) func(models.Community) models.Community {
	return func(c models.Community) models.Community {
		c.MemberCount = max(c.MemberCount+delta, 0)
		return c
	}
}

// CreateCommunity shows the new community together with my admin
// membership and writes both in one remote transaction.
func (s *Session) CreateCommunity(ctx context.Context, in CreateCommunityInput) (models.Community, *optimistic.Pending, error) {
	name, err := validation.ValidateCommunityName(in.Name)
	if err != nil {
		return models.Community{}, nil, models.NewValidationError(err.Error())
	}
	category, err := validation.ValidateCategory(in.Category)
	if err != nil {
		return models.Community{}, nil, models.NewValidationError(err.Error())
	}

	now := time.Now().UTC()
	community := models.Community{
		ID:          uuid.NewString(),
		OwnerID:     s.me,
		Name:        name,
		Category:    category,
		Description: in.Description,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The membership goes first so no reader sees the community without it.
	p := s.apply(ctx, optimistic.Mutation{
		Name: "create_community",
		Steps: []optimistic.Step{
			s.graph.JoinStep(community.ID, models.MembershipRoleAdmin),
			reconcile.Stage(s.communities, reconcile.Insert(community)),
		},
		Write: func(ctx context.Context) error {
			row := community
			_, err := s.deps.Communities.CreateWithOwner(ctx, &row)
			return err
		},
	})
	return community, p, nil
}

// JoinCommunity adds me to a community as a member.
func (s *Session) JoinCommunity(ctx context.Context, communityID string) (*optimistic.Pending, error) {
	if communityID == "" {
		return nil, models.NewValidationError("community id is required")
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()

	key := models.MembershipKey(communityID, s.me)
	if p := s.tracker.InFlight(graph.MembershipsCollection, key); p != nil {
		return p, nil
	}
	if s.graph.IsMember(communityID) {
		return optimistic.Settled("join", nil), nil
	}

	return s.apply(ctx, optimistic.Mutation{
		Name: "join",
		Steps: []optimistic.Step{
			s.graph.JoinStep(communityID, models.MembershipRoleMember),
			reconcile.Stage(s.communities, reconcile.Patch(communityID, adjustMembers(1), adjustMembers(-1))),
		},
		Write: func(ctx context.Context) error {
			m := models.Membership{CommunityID: communityID, UserID: s.me, Role: models.MembershipRoleMember}
			outcome, err := s.guard.Insert(ctx, "join", func(ctx context.Context) error {
				return s.deps.Communities.Join(ctx, &m)
			})
			if err != nil {
				return err
			}
			if outcome == idempotency.AlreadyApplied && s.refetchOnDuplicate() {
				s.refetchMembership(ctx, communityID)
			}
			return nil
		},
	}), nil
}

// LeaveCommunity removes me from a community.
func (s *Session) LeaveCommunity(ctx context.Context, communityID string) (*optimistic.Pending, error) {
	if communityID == "" {
		return nil, models.NewValidationError("community id is required")
	}
	s.actMu.Lock()
	defer s.actMu.Unlock()

	key := models.MembershipKey(communityID, s.me)
	if p := s.tracker.InFlight(graph.MembershipsCollection, key); p != nil {
		return p, nil
	}
	if !s.graph.IsMember(communityID) {
		return optimistic.Settled("leave", nil), nil
	}

	return s.apply(ctx, optimistic.Mutation{
		Name: "leave",
		Steps: []optimistic.Step{
			s.graph.LeaveStep(communityID),
			reconcile.Stage(s.communities, reconcile.Patch(communityID, adjustMembers(-1), adjustMembers(1))),
		},
		Write: func(ctx context.Context) error {
			outcome, err := s.guard.Delete(ctx, "leave", func(ctx context.Context) error {
				return s.deps.Communities.Leave(ctx, communityID, s.me)
			})
			if err != nil {
				return err
			}
			if outcome == idempotency.AlreadyApplied && s.refetchOnDuplicate() {
				s.refetchMembership(ctx, communityID)
			}
			return nil
		},
	}), nil
}

func (s *Session) refetchMembership(ctx context.Context, communityID string) {
	refetch[models.Membership](ctx, s, s.graph.Memberships(), models.MembershipKey(communityID, s.me),
		func(ctx context.Context) (*models.Membership, error) {
			return s.deps.Communities.GetMembership(ctx, communityID, s.me)
		})
	s.refreshCommunity(ctx, communityID)
}
