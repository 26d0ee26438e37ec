package inbox

import "socialsync/internal/models"

// MarkReadStep clears a conversation's unread set as one local change. The
// cleared ids stay marked, so a remote update that touched only some rows
// can never raise the count again. Messages arriving later count as usual.
func (a *Aggregator) MarkReadStep(convID string) *MarkRead {
	return &MarkRead{a: a, conv: convID}
}

// MarkRead is the optimistic step of a mark-as-read action.
type MarkRead struct {
	a    *Aggregator
	conv string
}

// Collection implements optimistic.Step.
func (s *MarkRead) Collection() string { return InboxCollection }

// Key implements optimistic.Step.
func (s *MarkRead) Key() string { return s.conv }

// ExpectPresent implements optimistic.Step.
func (s *MarkRead) ExpectPresent() bool { return true }

// Apply implements optimistic.Step.
func (s *MarkRead) Apply() (func(), bool) {
	a := s.a
	a.mu.Lock()
	cleared := a.unread[s.conv]
	var added []string
	if len(cleared) > 0 {
		marks := a.marked[s.conv]
		if marks == nil {
			marks = make(map[string]struct{}, len(cleared))
			a.marked[s.conv] = marks
		}
		for id := range cleared {
			if _, ok := marks[id]; !ok {
				marks[id] = struct{}{}
				added = append(added, id)
			}
		}
	}
	delete(a.unread, s.conv)
	a.mu.Unlock()
	a.notify(s.conv)

	return func() {
		a.mu.Lock()
		marks := a.marked[s.conv]
		for _, id := range added {
			if _, ok := marks[id]; !ok {
				// A read copy arrived in the meantime.
				continue
			}
			delete(marks, id)
			set := a.unread[s.conv]
			if set == nil {
				set = make(map[string]struct{})
				a.unread[s.conv] = set
			}
			set[id] = struct{}{}
		}
		if len(marks) == 0 {
			delete(a.marked, s.conv)
		}
		a.mu.Unlock()
		a.notify(s.conv)
	}, true
}

// Marked reports how many cleared ids of a conversation still wait for a
// read copy from the server.
func (a *Aggregator) Marked(convID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.marked[convID])
}

// PreviewStep shows a message I just sent as the conversation preview.
func (a *Aggregator) PreviewStep(m models.Message) *Preview {
	return &Preview{a: a, msg: m}
}

// Preview is the optimistic step updating the inbox preview on send.
type Preview struct {
	a   *Aggregator
	msg models.Message
}

// Collection implements optimistic.Step.
func (s *Preview) Collection() string { return InboxCollection }

// Key implements optimistic.Step.
func (s *Preview) Key() string { return s.msg.ID }

// ExpectPresent implements optimistic.Step.
func (s *Preview) ExpectPresent() bool { return true }

// Apply implements optimistic.Step.
func (s *Preview) Apply() (func(), bool) {
	a := s.a
	conv := s.msg.ConversationID
	a.mu.Lock()
	prev, had := a.last[conv]
	a.track(s.msg)
	a.mu.Unlock()
	a.notify(conv)

	return func() {
		a.mu.Lock()
		if cur, ok := a.last[conv]; ok && cur.ID == s.msg.ID {
			if had {
				a.last[conv] = prev
			} else {
				delete(a.last, conv)
			}
		}
		a.mu.Unlock()
		a.notify(conv)
	}, true
}
