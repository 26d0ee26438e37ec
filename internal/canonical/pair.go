// Package canonical resolves two-party relationships to an order-independent identity.
package canonical

import "socialsync/internal/models"

// Pair is an unordered pair of participant ids stored in canonical order:
// Lo is always the byte-wise smaller id.
type Pair struct {
	Lo string `json:"participant_1"`
	Hi string `json:"participant_2"`
}

// Resolve orders a and b. Equal or empty ids are rejected before any remote
// call can be issued.
func Resolve(a, b string) (Pair, error) {
	if a == "" || b == "" {
		return Pair{}, models.NewMalformedError("both participant ids are required", models.ErrSelfRelationship)
	}
	if a == b {
		return Pair{}, models.NewMalformedError("cannot start a conversation with yourself", models.ErrSelfRelationship)
	}
	if b < a {
		a, b = b, a
	}
	return Pair{Lo: a, Hi: b}, nil
}

// Of returns the pair stored on a conversation row.
func Of(c models.Conversation) Pair {
	return Pair{Lo: c.Participant1, Hi: c.Participant2}
}

// Contains reports whether id is one of the participants.
func (p Pair) Contains(id string) bool {
	return id != "" && (id == p.Lo || id == p.Hi)
}

// Other returns the participant that is not me.
func (p Pair) Other(me string) (string, bool) {
	switch me {
	case p.Lo:
		return p.Hi, true
	case p.Hi:
		return p.Lo, true
	}
	return "", false
}

// Key is a stable string form of the pair.
func (p Pair) Key() string {
	return p.Lo + ":" + p.Hi
}

// Conversation returns a new conversation row for the pair.
func (p Pair) Conversation() models.Conversation {
	return models.Conversation{Participant1: p.Lo, Participant2: p.Hi}
}
