package service

import (
	"context"

	"socialsync/internal/graph"
	"socialsync/internal/models"
	"socialsync/internal/reconcile"
)

// subsetSink lets several reconcilers share one collection. A resync only
// replaces the rows the reconciler owns.
type subsetSink[T reconcile.Keyed] struct {
	coll *reconcile.Collection[T]
	owns func(key string) bool
}

func (p subsetSink[T]) Name() string { return p.coll.Name() }

func (p subsetSink[T]) Apply(ev reconcile.Event[T], origin reconcile.Origin) reconcile.Outcome {
	return p.coll.Apply(ev, origin)
}

func (p subsetSink[T]) Reset(rows []T, keep func(key string) bool) {
	held := func(key string) bool { return keep != nil && keep(key) }

	fresh := make(map[string]bool, len(rows))
	for _, row := range rows {
		fresh[row.Key()] = true
		if !held(row.Key()) {
			p.coll.Apply(reconcile.Insert(row), reconcile.OriginResync)
		}
	}
	gone := p.coll.Filter(func(row T) bool {
		return p.owns(row.Key()) && !fresh[row.Key()] && !held(row.Key())
	})
	for _, row := range gone {
		p.coll.Apply(reconcile.Delete[T](row.Key()), reconcile.OriginResync)
	}
}

// profileReconciler keeps one user's profile row current in the shared
// profile collection.
func (s *Session) profileReconciler(userID string) *reconcile.Reconciler[models.User] {
	sink := subsetSink[models.User]{
		coll: s.graph.Profiles(),
		owns: func(key string) bool { return key == userID },
	}
	return reconcile.New[models.User](models.TableUsers, sink, s.deps.Feed,
		func(ctx context.Context) ([]models.User, error) {
			return s.deps.Users.ListByIDs(ctx, []string{userID})
		},
		reconcile.WithFilters[models.User](models.ScopedFilter(models.TableUsers, models.ScopeID, userID)),
		reconcile.WithAccept(func(u models.User) bool { return u.ID == userID }),
		reconcile.WithObserver[models.User](s.tracker),
		reconcile.WithPending[models.User](s.tracker.PendingFor(graph.ProfilesCollection)),
	)
}

// retainProfile counts watchers of a profile row.
func (s *Session) retainProfile(userID string) {
	s.mu.Lock()
	s.profileRefs[userID]++
	s.mu.Unlock()
}

// releaseProfile drops the profile row once nobody watches it.
func (s *Session) releaseProfile(userID string) {
	s.mu.Lock()
	s.profileRefs[userID]--
	unused := s.profileRefs[userID] <= 0
	if unused {
		delete(s.profileRefs, userID)
	}
	s.mu.Unlock()
	if unused {
		s.graph.Profiles().Apply(reconcile.Delete[models.User](userID), reconcile.OriginLocal)
	}
}
