// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"log/slog"

	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/observability"

	"gorm.io/gorm"
)

// Publisher receives a change event for every committed row mutation.
type Publisher interface {
	PublishChange(ctx context.Context, ev models.ChangeEvent, scopes ...models.Scope) error
}

type nopPublisher struct{}

func (nopPublisher) PublishChange(context.Context, models.ChangeEvent, ...models.Scope) error {
	return nil
}

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

type pendingChange struct {
	table  string
	op     models.ChangeOp
	row    interface{}
	scopes []models.Scope
}

// changeSet collects the rows touched by one transaction so they are only
// published once it has committed.
type changeSet []pendingChange

func (cs *changeSet) add(table string, op models.ChangeOp, row interface{}, scopes ...models.Scope) {
	*cs = append(*cs, pendingChange{table: table, op: op, row: row, scopes: scopes})
}

// publish sends every collected change. A publish failure never fails the
// write: the row is committed and subscribers heal through resync.
func publish(ctx context.Context, pub Publisher, cs changeSet) {
	for _, c := range cs {
		ev, err := models.NewChangeEvent(c.table, c.op, c.row)
		if err == nil {
			err = pub.PublishChange(ctx, ev, c.scopes...)
		}
		if err != nil {
			observability.ChangeEventsTotal.WithLabelValues(c.table, string(c.op), "publish_failed").Inc()
			middleware.Logger.WarnContext(ctx, "change event not published",
				slog.String("table", c.table),
				slog.String("op", string(c.op)),
				slog.String("error", err.Error()),
			)
		}
	}
}

func scope(name, value string) models.Scope {
	return models.Scope{Name: name, Value: value}
}

// notFound maps gorm's record-not-found to a typed error.
func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}

func postScopes(p models.Post) []models.Scope {
	return []models.Scope{scope(models.ScopeAuthor, p.AuthorID)}
}

func likeScopes(l models.Like) []models.Scope {
	return []models.Scope{
		scope(models.ScopeUser, l.UserID),
		scope(models.ScopeSubject, models.SubjectScope(l.Subject())),
	}
}

func commentScopes(c models.Comment) []models.Scope {
	return []models.Scope{scope(models.ScopePost, c.PostID)}
}

func followScopes(f models.Follow) []models.Scope {
	return []models.Scope{
		scope(models.ScopeFollower, f.FollowerID),
		scope(models.ScopeFollowing, f.FollowingID),
	}
}

func userScopes(u models.User) []models.Scope {
	return []models.Scope{scope(models.ScopeID, u.ID)}
}

func membershipScopes(m models.Membership) []models.Scope {
	return []models.Scope{
		scope(models.ScopeUser, m.UserID),
		scope(models.ScopeCommunity, m.CommunityID),
	}
}

func conversationScopes(c models.Conversation) []models.Scope {
	return []models.Scope{
		scope(models.ScopeParticipant, c.Participant1),
		scope(models.ScopeParticipant, c.Participant2),
	}
}

func messageScopes(m models.Message, c models.Conversation) []models.Scope {
	return []models.Scope{
		scope(models.ScopeConversation, m.ConversationID),
		scope(models.ScopeParticipant, c.Participant1),
		scope(models.ScopeParticipant, c.Participant2),
	}
}
