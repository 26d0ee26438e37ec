package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names carried by change events.
const (
	TableUsers       = "users"
	TablePosts       = "posts"
	TableLikes       = "likes"
	TableComments    = "comments"
	TableFollows     = "follows"
	TableCommunities = "communities"
	TableMemberships = "community_memberships"
	TableConvos      = "conversations"
	TableMessages    = "messages"
)

// ChangeOp is the kind of row mutation a change event reports.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent is the envelope pushed on the change feed for one committed
// row mutation. Record holds the row after the write; OldRecord holds the
// row before a delete.
type ChangeEvent struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	Op          ChangeOp        `json:"op"`
	Record      json.RawMessage `json:"record,omitempty"`
	OldRecord   json.RawMessage `json:"old_record,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// NewChangeEvent encodes row into an event. Deletes carry the row in OldRecord.
func NewChangeEvent(table string, op ChangeOp, row interface{}) (ChangeEvent, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	ev := ChangeEvent{
		ID:          uuid.NewString(),
		Table:       table,
		Op:          op,
		CommittedAt: time.Now().UTC(),
	}
	if op == ChangeDelete {
		ev.OldRecord = b
	} else {
		ev.Record = b
	}
	return ev, nil
}

// Payload returns the row the event is about.
func (e ChangeEvent) Payload() json.RawMessage {
	if e.Op == ChangeDelete && len(e.OldRecord) > 0 {
		return e.OldRecord
	}
	if len(e.Record) > 0 {
		return e.Record
	}
	return e.OldRecord
}

// Scope narrows a table channel to rows where Name = Value.
type Scope struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ChangeFilter selects a change feed channel: a whole table or one scope of it.
type ChangeFilter struct {
	Table string `json:"table"`
	Scope string `json:"scope,omitempty"`
	Value string `json:"value,omitempty"`
}

// TableFilter selects every change on table.
func TableFilter(table string) ChangeFilter {
	return ChangeFilter{Table: table}
}

// ScopedFilter selects changes on table where scope = value.
func ScopedFilter(table, scope, value string) ChangeFilter {
	return ChangeFilter{Table: table, Scope: scope, Value: value}
}

func (f ChangeFilter) String() string {
	if f.Scope == "" {
		return f.Table
	}
	return f.Table + ":" + f.Scope + "=" + f.Value
}

// Scope names used to narrow table channels.
const (
	ScopeAuthor       = "author"
	ScopeUser         = "user"
	ScopeSubject      = "subject"
	ScopePost         = "post"
	ScopeFollower     = "follower"
	ScopeFollowing    = "following"
	ScopeID           = "id"
	ScopeCommunity    = "community"
	ScopeParticipant  = "participant"
	ScopeConversation = "conversation"
)

// SubjectScope is the scope value of a like subject.
func SubjectScope(s Subject) string {
	return string(s.Type) + ":" + s.ID
}
