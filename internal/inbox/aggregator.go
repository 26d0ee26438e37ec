// Package inbox derives per-conversation previews and unread counters from
// the message stream.
package inbox

import (
	"sort"
	"sync"
	"time"

	"socialsync/internal/models"
	"socialsync/internal/reconcile"
)

// Collection names.
const (
	ConversationsCollection = "conversations"
	InboxCollection         = "inbox"
)

// Summary is one inbox row.
type Summary struct {
	Conversation     models.Conversation `json:"conversation"`
	OtherParticipant string              `json:"other_participant"`
	LastMessage      *models.Message     `json:"last_message,omitempty"`
	Unread           int                 `json:"unread"`
}

// ActivityAt orders the inbox.
func (s Summary) ActivityAt() time.Time {
	at := s.Conversation.ActivityAt()
	if s.LastMessage != nil && s.LastMessage.CreatedAt.After(at) {
		return s.LastMessage.CreatedAt
	}
	return at
}

// Aggregator keeps the latest message and the set of unread, not-own
// message ids per conversation. Counts are always the size of the set, so
// redelivered events never double count. Ids cleared by a mark-as-read stay
// out of the set until a read copy of the row arrives or a resync runs with
// no mark-as-read in flight for the conversation.
type Aggregator struct {
	me     string
	convos *reconcile.Collection[models.Conversation]

	mu     sync.RWMutex
	last   map[string]models.Message
	unread map[string]map[string]struct{}
	marked map[string]map[string]struct{}

	lmu       sync.Mutex
	listeners map[uint64]func(reconcile.Change)
	nextID    uint64
}

// New creates an empty aggregator for me.
func New(me string) *Aggregator {
	return &Aggregator{
		me: me,
		convos: reconcile.NewCollection(ConversationsCollection, reconcile.Rules[models.Conversation]{
			Less:  func(a, b models.Conversation) bool { return a.ActivityAt().After(b.ActivityAt()) },
			Merge: mergeConversation,
			Keep:  func(c models.Conversation) bool { return c.HasParticipant(me) },
		}),
		last:      make(map[string]models.Message),
		unread:    make(map[string]map[string]struct{}),
		marked:    make(map[string]map[string]struct{}),
		listeners: make(map[uint64]func(reconcile.Change)),
	}
}

// mergeConversation ignores a stale last_message_at from a late event.
func mergeConversation(local, incoming models.Conversation) models.Conversation {
	if local.LastMessageAt != nil && (incoming.LastMessageAt == nil || incoming.LastMessageAt.Before(*local.LastMessageAt)) {
		incoming.LastMessageAt = local.LastMessageAt
	}
	return incoming
}

// MergeMessage keeps is_read monotonic: once read, always read.
func MergeMessage(local, incoming models.Message) models.Message {
	incoming.IsRead = local.IsRead || incoming.IsRead
	return incoming
}

// Conversations returns the conversation collection.
func (a *Aggregator) Conversations() *reconcile.Collection[models.Conversation] { return a.convos }

// Name implements reconcile.Sink.
func (a *Aggregator) Name() string { return InboxCollection }

// Apply implements reconcile.Sink for message events.
func (a *Aggregator) Apply(ev reconcile.Event[models.Message], _ reconcile.Origin) reconcile.Outcome {
	a.mu.Lock()
	var conv string
	outcome := reconcile.Ignored
	switch ev.Op {
	case reconcile.OpInsert, reconcile.OpUpdate:
		conv = ev.Row.ConversationID
		outcome = a.track(ev.Row)
	case reconcile.OpDelete:
		conv, outcome = a.forget(ev.Key)
	}
	a.mu.Unlock()

	if outcome != reconcile.Ignored {
		a.notify(conv)
	}
	return outcome
}

// Reset implements reconcile.Sink. rows hold the latest message of each
// conversation plus every unread message addressed to me. keep also reports
// conversations with a mark-as-read in flight; only those keep their marks.
func (a *Aggregator) Reset(rows []models.Message, keep func(key string) bool) {
	a.mu.Lock()
	previous := a.last
	a.last = make(map[string]models.Message)
	a.unread = make(map[string]map[string]struct{})
	for conv := range a.marked {
		if keep == nil || !keep(conv) {
			delete(a.marked, conv)
		}
	}
	for _, m := range rows {
		a.track(m)
	}
	if keep != nil {
		for _, m := range previous {
			if keep(m.ID) {
				a.track(m)
			}
		}
	}
	a.mu.Unlock()
	a.notify("")
}

func (a *Aggregator) track(m models.Message) reconcile.Outcome {
	conv := m.ConversationID
	if conv == "" {
		return reconcile.Ignored
	}
	outcome := reconcile.Updated
	cur, ok := a.last[conv]
	switch {
	case !ok:
		a.last[conv] = m
		outcome = reconcile.Inserted
	case cur.ID == m.ID:
		a.last[conv] = MergeMessage(cur, m)
	case m.CreatedAt.After(cur.CreatedAt):
		a.last[conv] = m
	}

	marks := a.marked[conv]
	if _, ok := marks[m.ID]; ok && m.IsRead {
		delete(marks, m.ID)
		if len(marks) == 0 {
			delete(a.marked, conv)
		}
	}
	set := a.unread[conv]
	if _, marked := marks[m.ID]; m.SenderID != a.me && !m.IsRead && !marked {
		if set == nil {
			set = make(map[string]struct{})
			a.unread[conv] = set
		}
		set[m.ID] = struct{}{}
	} else if set != nil {
		delete(set, m.ID)
	}
	return outcome
}

func (a *Aggregator) forget(id string) (string, reconcile.Outcome) {
	for conv, marks := range a.marked {
		delete(marks, id)
		if len(marks) == 0 {
			delete(a.marked, conv)
		}
	}
	for conv, set := range a.unread {
		if _, ok := set[id]; ok {
			delete(set, id)
			if a.last[conv].ID == id {
				delete(a.last, conv)
			}
			return conv, reconcile.Removed
		}
	}
	for conv, m := range a.last {
		if m.ID == id {
			delete(a.last, conv)
			return conv, reconcile.Removed
		}
	}
	return "", reconcile.Ignored
}

// Unread returns the unread count of one conversation.
func (a *Aggregator) Unread(convID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.unread[convID])
}

// TotalUnread sums unread counts over every conversation.
func (a *Aggregator) TotalUnread() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, set := range a.unread {
		n += len(set)
	}
	return n
}

// LastMessage returns the preview message of a conversation.
func (a *Aggregator) LastMessage(convID string) (models.Message, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.last[convID]
	return m, ok
}

// Summaries returns every visible conversation, most recent activity first.
func (a *Aggregator) Summaries() []Summary {
	convs := a.convos.Items()
	a.mu.RLock()
	out := make([]Summary, 0, len(convs))
	for _, c := range convs {
		other, _ := c.OtherParticipant(a.me)
		s := Summary{Conversation: c, OtherParticipant: other, Unread: len(a.unread[c.ID])}
		if m, ok := a.last[c.ID]; ok {
			m := m
			s.LastMessage = &m
		}
		out = append(out, s)
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ActivityAt().After(out[j].ActivityAt()) })
	return out
}

// Subscribe registers fn for inbox change notices.
func (a *Aggregator) Subscribe(fn func(reconcile.Change)) (cancel func()) {
	a.lmu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.lmu.Lock()
			delete(a.listeners, id)
			a.lmu.Unlock()
		})
	}
}

func (a *Aggregator) notify(conv string) {
	a.lmu.Lock()
	fns := make([]func(reconcile.Change), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.lmu.Unlock()
	ch := reconcile.Change{Collection: InboxCollection, Key: conv, Op: reconcile.OpUpdate, Outcome: reconcile.Updated, Origin: reconcile.OriginRemote}
	for _, fn := range fns {
		fn(ch)
	}
}
