// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"context"
	"sync"

	"socialsync/internal/models"
	"socialsync/internal/reconcile"
)

// FakeFeed is an in-memory change feed. It counts live handlers so tests
// can assert that watches release everything they subscribe.
type FakeFeed struct {
	mu     sync.Mutex
	subs   map[int]*FakeSubscription
	nextID int
	// SubscribeErr, when set, fails every Subscribe call.
	SubscribeErr error
	// Opened counts every successful Subscribe call.
	Opened int
}

// FakeSubscription is one live handler of a FakeFeed.
type FakeSubscription struct {
	feed        *FakeFeed
	id          int
	Filter      models.ChangeFilter
	onEvent     func(models.ChangeEvent)
	onReconnect func()
	closed      bool
}

// NewFakeFeed returns an empty feed.
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{subs: make(map[int]*FakeSubscription)}
}

// Subscribe implements reconcile.Feed.
func (f *FakeFeed) Subscribe(_ context.Context, filter models.ChangeFilter, onEvent func(models.ChangeEvent), onReconnect func()) (reconcile.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	s := &FakeSubscription{feed: f, id: f.nextID, Filter: filter, onEvent: onEvent, onReconnect: onReconnect}
	f.subs[s.id] = s
	f.nextID++
	f.Opened++
	return s, nil
}

// Close implements reconcile.Subscription.
func (s *FakeSubscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if !s.closed {
		s.closed = true
		delete(s.feed.subs, s.id)
	}
	return nil
}

// Live returns the number of open subscriptions.
func (f *FakeFeed) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// LiveFor returns the number of open subscriptions on filter.
func (f *FakeFeed) LiveFor(filter models.ChangeFilter) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.Filter == filter {
			n++
		}
	}
	return n
}

func (f *FakeFeed) matching(pred func(models.ChangeFilter) bool) []*FakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*FakeSubscription
	for _, s := range f.subs {
		if pred(s.Filter) {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers ev to every subscription on ev's table whose scope is in
// scopes, or that subscribed to the whole table.
func (f *FakeFeed) Emit(ev models.ChangeEvent, scopes ...models.Scope) {
	subs := f.matching(func(flt models.ChangeFilter) bool {
		if flt.Table != ev.Table {
			return false
		}
		if flt.Scope == "" {
			return true
		}
		for _, sc := range scopes {
			if sc.Name == flt.Scope && sc.Value == flt.Value {
				return true
			}
		}
		return false
	})
	for _, s := range subs {
		s.onEvent(ev)
	}
}

// EmitRow encodes row as a change event and emits it.
func (f *FakeFeed) EmitRow(table string, op models.ChangeOp, row interface{}, scopes ...models.Scope) {
	ev, err := models.NewChangeEvent(table, op, row)
	if err != nil {
		panic(err)
	}
	f.Emit(ev, scopes...)
}

// PublishChange implements the repository publisher so repositories under
// test can drive the same feed.
func (f *FakeFeed) PublishChange(_ context.Context, ev models.ChangeEvent, scopes ...models.Scope) error {
	f.Emit(ev, scopes...)
	return nil
}

// Reconnect simulates a connectivity gap on every subscription of table.
func (f *FakeFeed) Reconnect(table string) {
	subs := f.matching(func(flt models.ChangeFilter) bool { return flt.Table == table })
	for _, s := range subs {
		if s.onReconnect != nil {
			s.onReconnect()
		}
	}
}
