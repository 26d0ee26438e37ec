package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialsync/internal/models"
	"socialsync/internal/observability"
)

// Subscription is a live change feed channel. Close releases it.
type Subscription interface {
	Close() error
}

// Feed is the remote change-notification interface. onReconnect is called
// whenever the channel was re-established after a connectivity gap.
type Feed interface {
	Subscribe(ctx context.Context, filter models.ChangeFilter, onEvent func(models.ChangeEvent), onReconnect func()) (Subscription, error)
}

// Sink receives reconciled rows. *Collection implements it; aggregators
// that derive state from a stream can implement it too.
type Sink[T Keyed] interface {
	Name() string
	Apply(ev Event[T], origin Origin) Outcome
	Reset(rows []T, keep func(key string) bool)
}

// Observer is told about every remote row the reconciler applies, so that
// pending optimistic mutations can be confirmed early.
type Observer interface {
	Observe(collection, key string, present bool)
}

// LoadFunc fetches the full watched resource for a resync.
type LoadFunc[T Keyed] func(ctx context.Context) ([]T, error)

// Option configures a Reconciler.
type Option[T Keyed] func(*Reconciler[T])

// WithFilters sets the channels to subscribe to. Defaults to the whole table.
func WithFilters[T Keyed](filters ...models.ChangeFilter) Option[T] {
	return func(r *Reconciler[T]) { r.filters = filters }
}

// WithObserver reports applied remote rows to o.
func WithObserver[T Keyed](o Observer) Option[T] {
	return func(r *Reconciler[T]) { r.observer = o }
}

// WithPending marks keys whose local state must survive a resync.
func WithPending[T Keyed](pending func(key string) bool) Option[T] {
	return func(r *Reconciler[T]) { r.pending = pending }
}

// WithAccept drops remote rows outside the watched resource.
func WithAccept[T Keyed](accept func(T) bool) Option[T] {
	return func(r *Reconciler[T]) { r.accept = accept }
}

// Reconciler keeps a Sink in step with one table of the change feed.
type Reconciler[T Keyed] struct {
	table    string
	sink     Sink[T]
	feed     Feed
	load     LoadFunc[T]
	filters  []models.ChangeFilter
	observer Observer
	pending  func(string) bool
	accept   func(T) bool
	logger   *observability.SyncLogger

	mu        sync.Mutex
	running   bool
	subs      []Subscription
	cancel    context.CancelFunc
	resyncing bool
	buffered  []models.ChangeEvent

	resyncMu  sync.Mutex
	resyncReq chan struct{}
	wg        sync.WaitGroup
}

// New creates a reconciler for table feeding sink.
func New[T Keyed](table string, sink Sink[T], feed Feed, load LoadFunc[T], opts ...Option[T]) *Reconciler[T] {
	r := &Reconciler[T]{
		table:     table,
		sink:      sink,
		feed:      feed,
		load:      load,
		logger:    observability.NewSyncLogger("reconciler"),
		resyncReq: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.filters) == 0 {
		r.filters = []models.ChangeFilter{models.TableFilter(table)}
	}
	return r
}

// Start subscribes to every filter and then performs the initial full load.
// Subscribing first means no change committed after the load is missed.
func (r *Reconciler[T]) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	subs := make([]Subscription, 0, len(r.filters))
	for _, f := range r.filters {
		sub, err := r.feed.Subscribe(runCtx, f, r.Handle, r.requestResync)
		if err != nil {
			r.mu.Unlock()
			cancel()
			closeAll(subs)
			return fmt.Errorf("subscribe %s: %w", f, err)
		}
		subs = append(subs, sub)
	}
	r.subs = subs
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.resyncLoop(runCtx)
	r.mu.Unlock()

	r.logger.LogLifecycle(ctx, "subscribe", map[string]interface{}{
		"collection": r.sink.Name(),
		"channels":   len(subs),
	})

	if err := r.Resync(ctx); err != nil {
		_ = r.Stop()
		return err
	}
	return nil
}

// Stop closes every subscription and waits for background resyncs to exit.
// It is safe to call more than once.
func (r *Reconciler[T]) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	subs := r.subs
	r.subs = nil
	r.cancel()
	r.mu.Unlock()

	err := closeAll(subs)
	r.wg.Wait()
	r.logger.LogLifecycle(context.Background(), "unsubscribe", map[string]interface{}{
		"collection": r.sink.Name(),
	})
	return err
}

// Running reports whether the reconciler holds live subscriptions.
func (r *Reconciler[T]) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Resync fetches the full resource and replaces the sink contents. Events
// received while the fetch is in flight are replayed on top of the result.
func (r *Reconciler[T]) Resync(ctx context.Context) error {
	r.resyncMu.Lock()
	defer r.resyncMu.Unlock()

	r.mu.Lock()
	r.resyncing = true
	r.buffered = nil
	r.mu.Unlock()

	rows, err := r.load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	buffered := r.buffered
	r.resyncing = false
	r.buffered = nil
	if err != nil {
		return fmt.Errorf("resync %s: %w", r.sink.Name(), err)
	}

	if r.accept != nil {
		kept := rows[:0]
		for _, row := range rows {
			if r.accept(row) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	r.sink.Reset(rows, r.pending)
	for _, ev := range buffered {
		r.apply(ev)
	}

	observability.ResyncsTotal.WithLabelValues(r.table).Inc()
	r.logger.LogLifecycle(ctx, "resync", map[string]interface{}{
		"collection": r.sink.Name(),
		"rows":       len(rows),
		"replayed":   len(buffered),
	})
	return nil
}

// Handle merges one change event. Events for other tables are ignored.
func (r *Reconciler[T]) Handle(ev models.ChangeEvent) {
	r.mu.Lock()
	if r.resyncing {
		r.buffered = append(r.buffered, ev)
	}
	r.mu.Unlock()
	r.apply(ev)
}

func (r *Reconciler[T]) apply(ev models.ChangeEvent) {
	if ev.Table != r.table {
		return
	}
	var row T
	if err := json.Unmarshal(ev.Payload(), &row); err != nil {
		observability.ChangeEventsTotal.WithLabelValues(r.table, string(ev.Op), "malformed").Inc()
		r.logger.LogWarn(context.Background(), "dropping undecodable change event", err, map[string]interface{}{
			"table":    r.table,
			"event_id": ev.ID,
		})
		return
	}
	if r.accept != nil && !r.accept(row) {
		observability.ChangeEventsTotal.WithLabelValues(r.table, string(ev.Op), "out_of_scope").Inc()
		return
	}

	var outcome Outcome
	switch ev.Op {
	case models.ChangeInsert:
		outcome = r.sink.Apply(Insert(row), OriginRemote)
	case models.ChangeUpdate:
		outcome = r.sink.Apply(Update(row), OriginRemote)
	case models.ChangeDelete:
		outcome = r.sink.Apply(Delete[T](row.Key()), OriginRemote)
	default:
		observability.ChangeEventsTotal.WithLabelValues(r.table, string(ev.Op), "unknown_op").Inc()
		return
	}
	observability.ChangeEventsTotal.WithLabelValues(r.table, string(ev.Op), string(outcome)).Inc()
	if outcome == Ignored {
		r.logger.LogAbsorbed(context.Background(), "stale_reference", map[string]interface{}{
			"collection": r.sink.Name(),
			"key":        row.Key(),
			"op":         string(ev.Op),
		})
	}

	if r.observer != nil {
		r.observer.Observe(r.sink.Name(), row.Key(), ev.Op != models.ChangeDelete)
	}
}

func (r *Reconciler[T]) requestResync() {
	select {
	case r.resyncReq <- struct{}{}:
	default:
	}
}

const (
	minResyncBackoff = 500 * time.Millisecond
	maxResyncBackoff = 30 * time.Second
)

func (r *Reconciler[T]) resyncLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.resyncReq:
		}

		r.logger.LogWarn(ctx, "change feed reconnected, resynchronizing", nil, map[string]interface{}{
			"collection": r.sink.Name(),
		})
		backoff := minResyncBackoff
		for {
			err := r.Resync(ctx)
			if err == nil || ctx.Err() != nil {
				break
			}
			r.logger.LogWarn(ctx, "resync failed", err, map[string]interface{}{
				"collection": r.sink.Name(),
				"retry_in":   backoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxResyncBackoff {
				backoff = maxResyncBackoff
			}
		}
	}
}

func closeAll(subs []Subscription) error {
	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
