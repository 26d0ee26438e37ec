// Package notifications carries committed row changes over Redis pub/sub and
// pushes local collection changes to UI websocket clients.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"socialsync/internal/models"
	"socialsync/internal/observability"
	"socialsync/internal/reconcile"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "changes:"

// ChangeChannel derives the Redis channel for a change filter:
// changes:<table> or changes:<table>:<scope>:<value>.
func ChangeChannel(f models.ChangeFilter) string {
	if f.Scope == "" {
		return channelPrefix + f.Table
	}
	return fmt.Sprintf("%s%s:%s:%s", channelPrefix, f.Table, f.Scope, f.Value)
}

// Notifier publishes change events into Redis channels and subscribes to them.
type Notifier struct {
	rdb *redis.Client
	log *observability.SyncLogger
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client makes publishing a no-op and subscriptions silent.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, log: observability.NewSyncLogger("notifier")}
}

// PublishChange sends ev to its table channel and to one channel per scope.
func (n *Notifier) PublishChange(ctx context.Context, ev models.ChangeEvent, scopes ...models.Scope) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, ChangeChannel(models.TableFilter(ev.Table)), payload)
	for _, sc := range scopes {
		if sc.Value == "" {
			continue
		}
		pipe.Publish(ctx, ChangeChannel(models.ScopedFilter(ev.Table, sc.Name, sc.Value)), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s change: %w", ev.Table, err)
	}
	observability.ChangeEventsTotal.WithLabelValues(ev.Table, string(ev.Op), "published").Inc()
	return nil
}

// Subscribe opens a channel subscription for filter. It returns once Redis
// has confirmed the subscription, so events published afterwards are not
// missed. onReconnect is called whenever the connection was re-established,
// since events may have been lost in the gap.
func (n *Notifier) Subscribe(ctx context.Context, filter models.ChangeFilter, onEvent func(models.ChangeEvent), onReconnect func()) (reconcile.Subscription, error) {
	if n.rdb == nil {
		return noopSubscription{}, nil
	}

	channel := ChangeChannel(filter)
	ps := n.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, models.NewTransientError(fmt.Errorf("subscribe %s: %w", channel, err))
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &subscription{ps: ps, cancel: cancel, done: make(chan struct{})}
	observability.SubscriptionsActive.Inc()
	n.log.LogLifecycle(ctx, "subscribe", map[string]interface{}{"channel": channel})

	go n.pump(subCtx, s, channel, onEvent, onReconnect)
	return s, nil
}

func (n *Notifier) pump(ctx context.Context, s *subscription, channel string, onEvent func(models.ChangeEvent), onReconnect func()) {
	defer close(s.done)
	ch := s.ps.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *redis.Subscription:
				// The first confirmation was consumed by Subscribe; any later
				// one means go-redis reconnected and re-subscribed.
				if m.Kind == "subscribe" && onReconnect != nil {
					n.log.LogWarn(ctx, "change feed reconnected", nil, map[string]interface{}{"channel": channel})
					n.safely(ctx, channel, onReconnect)
				}
			case *redis.Message:
				var ev models.ChangeEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					observability.ChangeEventsTotal.WithLabelValues("unknown", "unknown", "undecodable").Inc()
					n.log.LogWarn(ctx, "dropping undecodable change event", err, map[string]interface{}{"channel": channel})
					continue
				}
				n.safely(ctx, channel, func() { onEvent(ev) })
			}
		}
	}
}

func (n *Notifier) safely(ctx context.Context, channel string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.LogError(ctx, "panic in change handler", fmt.Errorf("%v", r), map[string]interface{}{
				"channel": channel,
				"stack":   string(debug.Stack()),
			})
		}
	}()
	fn()
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Close unsubscribes and waits for the delivery goroutine to exit. It is
// safe to call more than once. Close must not be called from inside the
// subscription's own handler.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ps.Close()
		<-s.done
		observability.SubscriptionsActive.Dec()
	})
	return s.err
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }
