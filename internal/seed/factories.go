// Package seed provides helpers to create demo data for the application
// database. These helpers are intended for development and testing only.
package seed

import (
	"fmt"
	"strings"
	"time"

	"socialsync/internal/canonical"
	"socialsync/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

var communityCategories = []string{
	"technology", "gaming", "music", "books", "fitness", "food", "travel", "science", "art", "finance",
}

// Factory builds domain entities with fake content. It never touches the
// database; the Seeder persists what it builds.
type Factory struct {
	fake    *gofakeit.Faker
	maxDays int
}

// NewFactory creates a Factory. A zero seed picks a random one.
func NewFactory(opts Options) *Factory {
	maxDays := opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	return &Factory{fake: gofakeit.New(opts.RandomSeed), maxDays: maxDays}
}

// pastTime returns a moment within the last maxDays.
func (f *Factory) pastTime() time.Time {
	now := time.Now().UTC()
	return f.fake.DateRange(now.Add(-time.Duration(f.maxDays)*24*time.Hour), now)
}

// BuildUser returns an unsaved user with a unique-looking username.
func (f *Factory) BuildUser(overrides ...func(*models.User)) *models.User {
	first, last := f.fake.FirstName(), f.fake.LastName()
	u := &models.User{
		ID:          uuid.NewString(),
		Username:    strings.ToLower(fmt.Sprintf("%s_%s%d", first, last, f.fake.Number(100, 9999))),
		DisplayName: first + " " + last,
		AvatarURL:   "https://i.pravatar.cc/150?u=" + f.fake.UUID(),
	}
	for _, o := range overrides {
		o(u)
	}
	return u
}

// BuildPost returns an unsaved post by author. Roughly one post in ten is a
// draft.
func (f *Factory) BuildPost(author string, overrides ...func(*models.Post)) *models.Post {
	desc := f.fake.Sentence(12)
	content := f.fake.Paragraph(1, 3, 8, "\n\n")
	p := &models.Post{
		ID:          uuid.NewString(),
		AuthorID:    author,
		Title:       strings.TrimSuffix(f.fake.Sentence(f.fake.Number(3, 8)), "."),
		Description: &desc,
		Content:     &content,
		Tags:        models.StringList{f.fake.Hobby(), f.fake.BuzzWord()},
		Status:      models.PostStatusPublished,
		CreatedAt:   f.pastTime(),
	}
	if f.fake.Number(1, 10) == 1 {
		p.Status = models.PostStatusDraft
	}
	if f.fake.Bool() {
		p.MediaURLs = models.StringList{fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.fake.UUID())}
	}
	for _, o := range overrides {
		o(p)
	}
	return p
}

// BuildComment returns an unsaved comment on postID. parentID may be empty.
func (f *Factory) BuildComment(postID, author, parentID string) *models.Comment {
	c := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  author,
		Text:      f.fake.Sentence(f.fake.Number(4, 20)),
		CreatedAt: f.pastTime(),
	}
	if parentID != "" {
		c.ParentCommentID = &parentID
	}
	return c
}

// BuildCommunity returns an unsaved community owned by owner.
func (f *Factory) BuildCommunity(owner string) *models.Community {
	return &models.Community{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Name:        f.fake.Company(),
		Category:    f.fake.RandomString(communityCategories),
		Description: f.fake.Sentence(15),
	}
}

// BuildConversation returns the unsaved conversation between a and b with
// its participants in canonical order.
func (f *Factory) BuildConversation(a, b string) (*models.Conversation, error) {
	pair, err := canonical.Resolve(a, b)
	if err != nil {
		return nil, err
	}
	conv := pair.Conversation()
	conv.ID = uuid.NewString()
	return &conv, nil
}

// BuildMessage returns an unsaved message. Messages are spaced a few
// minutes apart starting at base.
func (f *Factory) BuildMessage(conv *models.Conversation, sender string, base time.Time, i int) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       sender,
		Text:           f.fake.Sentence(f.fake.Number(2, 14)),
		CreatedAt:      base.Add(time.Duration(i*f.fake.Number(1, 9)+i) * time.Minute),
	}
}

// Pick returns up to n distinct elements of ids, never including exclude.
func (f *Factory) Pick(ids []string, n int, exclude string) []string {
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			candidates = append(candidates, id)
		}
	}
	f.fake.ShuffleAnySlice(candidates)
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}
