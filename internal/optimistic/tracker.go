// Package optimistic applies local mutations immediately and settles them
// against the outcome of the remote write.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"socialsync/internal/models"
	"socialsync/internal/observability"
)

// DefaultTimeout bounds how long a mutation may stay pending.
const DefaultTimeout = 10 * time.Second

// Step is one local change belonging to a mutation.
type Step interface {
	Collection() string
	Key() string
	// ExpectPresent reports whether the row exists once the change is confirmed.
	ExpectPresent() bool
	// Apply performs the change and returns its inverse. applied is false
	// when nothing changed.
	Apply() (undo func(), applied bool)
}

// State of a pending mutation.
type State string

const (
	StateApplied    State = "applied_optimistically"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// Mutation is a set of local steps and the remote write that makes them durable.
// The first step is the primary change: a remote event matching it confirms
// the whole mutation.
type Mutation struct {
	Name  string
	Steps []Step
	Write func(ctx context.Context) error
}

// Pending is the handle returned to the caller of Apply.
type Pending struct {
	id      string
	name    string
	primary string
	expect  bool
	undos   []func()

	mu       sync.Mutex
	state    State
	observed bool
	err      error
	done     chan struct{}
}

// ID returns the mutation id.
func (p *Pending) ID() string { return p.id }

// Name returns the mutation name.
func (p *Pending) Name() string { return p.name }

// Done is closed once the mutation is confirmed or rolled back.
func (p *Pending) Done() <-chan struct{} { return p.done }

// State returns the current state.
func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure that caused a rollback. Nil until settled.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the mutation settles and returns its error.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settled returns a handle that is already confirmed, or rolled back with
// err when err is not nil. Callers use it for actions with nothing to do.
func Settled(name string, err error) *Pending {
	p := &Pending{id: uuid.NewString(), name: name, state: StateConfirmed, err: err, done: make(chan struct{})}
	if err != nil {
		p.state = StateRolledBack
	}
	close(p.done)
	return p
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout overrides the pending fail-safe interval.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// Tracker owns every pending mutation of one session.
type Tracker struct {
	timeout time.Duration
	logger  *observability.SyncLogger

	mu    sync.Mutex
	byKey map[string]*Pending
	all   map[string]*Pending
	wg    sync.WaitGroup
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		timeout: DefaultTimeout,
		logger:  observability.NewSyncLogger("optimistic"),
		byKey:   make(map[string]*Pending),
		all:     make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func pendingKey(collection, key string) string {
	return collection + "/" + key
}

// Apply performs the local steps now and issues the remote write in the
// background. The returned handle settles as confirmed or rolled back.
// Cancelling ctx does not abort the write; the fail-safe timeout does.
func (t *Tracker) Apply(ctx context.Context, m Mutation) *Pending {
	if len(m.Steps) == 0 || m.Write == nil {
		return Settled(m.Name, models.NewInternalError(fmt.Errorf("mutation %q has no steps or write", m.Name)))
	}

	p := &Pending{
		id:      uuid.NewString(),
		name:    m.Name,
		primary: pendingKey(m.Steps[0].Collection(), m.Steps[0].Key()),
		expect:  m.Steps[0].ExpectPresent(),
		state:   StateApplied,
		done:    make(chan struct{}),
	}
	for _, s := range m.Steps {
		if undo, applied := s.Apply(); applied {
			p.undos = append(p.undos, undo)
		}
	}

	t.mu.Lock()
	t.byKey[p.primary] = p
	t.all[p.id] = p
	t.mu.Unlock()
	observability.PendingMutations.Inc()

	t.wg.Add(1)
	go t.run(context.WithoutCancel(ctx), p, m.Write)
	return p
}

func (t *Tracker) run(ctx context.Context, p *Pending, write func(context.Context) error) {
	defer t.wg.Done()

	ctx = observability.WithMutationID(ctx, p.id)
	ctx, finish := observability.StartMutation(ctx, p.name, p.id, p.primary)

	wctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("remote write panicked: %v", r)
			}
		}()
		result <- write(wctx)
	}()

	var err error
	select {
	case err = <-result:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			err = models.NewTransientError(fmt.Errorf("%s: %w", p.name, models.ErrMutationTimeout))
		}
	case <-wctx.Done():
		err = models.NewTransientError(fmt.Errorf("%s: %w", p.name, models.ErrMutationTimeout))
	}
	finish(t.settle(ctx, p, err))
}

// settle applies the final state and returns the error the caller sees.
func (t *Tracker) settle(ctx context.Context, p *Pending, err error) error {
	t.mu.Lock()
	if t.byKey[p.primary] == p {
		delete(t.byKey, p.primary)
	}
	delete(t.all, p.id)
	t.mu.Unlock()
	observability.PendingMutations.Dec()

	p.mu.Lock()
	observed := p.observed
	p.mu.Unlock()

	if err != nil && observed {
		// The change feed already showed the row in its target state.
		t.logger.LogWarn(ctx, "remote write failed after confirming event", err, map[string]interface{}{
			"mutation": p.name,
			"key":      p.primary,
		})
		err = nil
	}

	if err != nil {
		for i := len(p.undos) - 1; i >= 0; i-- {
			p.undos[i]()
		}
		t.logger.LogError(ctx, "optimistic mutation rolled back", err, map[string]interface{}{
			"mutation": p.name,
			"key":      p.primary,
		})
	}

	p.mu.Lock()
	if err != nil {
		p.state = StateRolledBack
		p.err = err
	} else {
		p.state = StateConfirmed
	}
	state := p.state
	p.mu.Unlock()
	close(p.done)

	observability.OptimisticMutationsTotal.WithLabelValues(p.name, string(state)).Inc()
	return err
}

// Observe implements reconcile.Observer. A remote row reaching the state a
// pending mutation expects counts as confirmation of that mutation.
func (t *Tracker) Observe(collection, key string, present bool) {
	t.mu.Lock()
	p := t.byKey[pendingKey(collection, key)]
	t.mu.Unlock()
	if p == nil || p.expect != present {
		return
	}
	p.mu.Lock()
	p.observed = true
	p.mu.Unlock()
}

// IsPending reports whether a mutation targeting key is in flight.
func (t *Tracker) IsPending(collection, key string) bool {
	return t.InFlight(collection, key) != nil
}

// InFlight returns the pending mutation whose primary step targets key.
func (t *Tracker) InFlight(collection, key string) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byKey[pendingKey(collection, key)]
}

// PendingFor returns a predicate over row keys of collection, suitable for
// preserving optimistic state across a resync.
func (t *Tracker) PendingFor(collection string) func(key string) bool {
	return func(key string) bool { return t.IsPending(collection, key) }
}

// Len returns the number of pending mutations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.all)
}

// Close waits for every pending mutation to settle or for ctx to end.
func (t *Tracker) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
