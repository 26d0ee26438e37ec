package service

import (
	"socialsync/internal/comments"
	"socialsync/internal/inbox"
	"socialsync/internal/models"
)

// Feed returns the published posts feed, newest first.
func (s *Session) Feed() []models.Post { return s.feed.Items() }

// Post returns a post from the feed or an open profile watch.
func (s *Session) Post(id string) (models.Post, bool) {
	if p, ok := s.feed.Get(id); ok {
		return p, true
	}
	for _, w := range s.watchesOf(watchProfile, "") {
		if p, ok := w.posts.Get(id); ok {
			return p, true
		}
	}
	return models.Post{}, false
}

// IsLiked reports whether I like subject.
func (s *Session) IsLiked(subject models.Subject) bool {
	return s.likes.Has(models.LikeKey(subject, s.me))
}

// CommentThreads returns the comment tree of a post with an open watch.
func (s *Session) CommentThreads(postID string) []comments.Thread {
	for _, w := range s.watchesOf(watchComments, postID) {
		return w.Threads()
	}
	return nil
}

// IsFollowing reports whether I follow id.
func (s *Session) IsFollowing(id string) bool { return s.graph.IsFollowing(id) }

// IsFollowedBy reports whether id follows me.
func (s *Session) IsFollowedBy(id string) bool { return s.graph.IsFollowedBy(id) }

// FollowingCount is the number of users I follow.
func (s *Session) FollowingCount() int { return s.graph.FollowingCount() }

// FollowerCount is the number of users following me.
func (s *Session) FollowerCount() int { return s.graph.FollowerCount() }

// Following returns the ids I follow.
func (s *Session) Following() []string { return s.graph.Following() }

// Followers returns the ids following me.
func (s *Session) Followers() []string { return s.graph.Followers() }

// Profile returns my profile or a watched one.
func (s *Session) Profile(id string) (models.User, bool) { return s.graph.Profile(id) }

// IsMember reports whether I belong to a community.
func (s *Session) IsMember(communityID string) bool { return s.graph.IsMember(communityID) }

// Role returns my role in a community.
func (s *Session) Role(communityID string) (models.MembershipRole, bool) {
	return s.graph.Role(communityID)
}

// Communities returns the known communities, newest first.
func (s *Session) Communities() []models.Community { return s.communities.Items() }

// Community returns one known community.
func (s *Session) Community(id string) (models.Community, bool) { return s.communities.Get(id) }

// Conversations returns my inbox, most recent activity first.
func (s *Session) Conversations() []inbox.Summary { return s.inbox.Summaries() }

// Unread returns the unread count of a conversation.
func (s *Session) Unread(convID string) int { return s.inbox.Unread(convID) }

// TotalUnread sums unread counts over my conversations.
func (s *Session) TotalUnread() int { return s.inbox.TotalUnread() }

// Messages returns the messages of a conversation with an open watch.
func (s *Session) Messages(convID string) []models.Message {
	for _, w := range s.watchesOf(watchConversation, convID) {
		return w.Messages()
	}
	return nil
}

// OtherParticipant resolves the participant of conv that is not me.
func (s *Session) OtherParticipant(conv models.Conversation) (string, error) {
	return conv.OtherParticipant(s.me)
}
