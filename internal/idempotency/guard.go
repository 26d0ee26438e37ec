// Package idempotency treats repeats of already-applied unique actions as success.
package idempotency

import (
	"context"
	"fmt"

	"socialsync/internal/models"
	"socialsync/internal/observability"
)

// Outcome reports which benign branch a guarded write took.
type Outcome int

const (
	// Applied means the write changed the remote store.
	Applied Outcome = iota
	// AlreadyApplied means the store was already in the requested state.
	AlreadyApplied
)

func (o Outcome) String() string {
	if o == AlreadyApplied {
		return "already_applied"
	}
	return "applied"
}

// Guard wraps toggle-style writes. Only failures outside the benign class
// reach the caller.
type Guard struct {
	isDuplicate func(error) bool
	logger      *observability.SyncLogger
}

// NewGuard returns a Guard using isDuplicate to recognize uniqueness
// violations. A nil predicate defaults to models.IsUniqueViolation.
func NewGuard(isDuplicate func(error) bool) *Guard {
	if isDuplicate == nil {
		isDuplicate = models.IsUniqueViolation
	}
	return &Guard{
		isDuplicate: isDuplicate,
		logger:      observability.NewSyncLogger("idempotency"),
	}
}

// Insert runs a unique insert. A uniqueness violation is reported as AlreadyApplied.
func (g *Guard) Insert(ctx context.Context, name string, insert func(context.Context) error) (Outcome, error) {
	err := insert(ctx)
	if err == nil {
		return Applied, nil
	}
	if g.isDuplicate(err) {
		g.logger.LogAbsorbed(ctx, "benign_duplicate", map[string]interface{}{"action": name})
		return AlreadyApplied, nil
	}
	return Applied, fmt.Errorf("%s: %w", name, err)
}

// Delete runs a delete of a unique row. A missing row is reported as AlreadyApplied.
func (g *Guard) Delete(ctx context.Context, name string, remove func(context.Context) error) (Outcome, error) {
	err := remove(ctx)
	if err == nil {
		return Applied, nil
	}
	if models.IsNotFound(err) {
		g.logger.LogAbsorbed(ctx, "stale_reference", map[string]interface{}{"action": name})
		return AlreadyApplied, nil
	}
	return Applied, fmt.Errorf("%s: %w", name, err)
}
