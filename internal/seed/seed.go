package seed

import (
	"context"
	"fmt"
	"log"

	"socialsync/internal/cache"
	"socialsync/internal/database"
	"socialsync/internal/models"
	"socialsync/internal/repository"

	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	NumUsers                int
	PostsPerUser            int
	CommentsPerPost         int
	LikesPerPost            int
	FollowsPerUser          int
	NumCommunities          int
	MembersPerCommunity     int
	ConversationsPerUser    int
	MessagesPerConversation int
	// MaxDays bounds how far back created_at timestamps spread.
	MaxDays int
	// RandomSeed makes a run reproducible. Zero picks a random seed.
	RandomSeed int64
	// ShouldClean deletes every row before seeding.
	ShouldClean bool
	// DryRun builds entities without writing them.
	DryRun bool
}

// DefaultOptions is a small but fully connected data set.
func DefaultOptions() Options {
	return Options{
		NumUsers:                20,
		PostsPerUser:            3,
		CommentsPerPost:         3,
		LikesPerPost:            4,
		FollowsPerUser:          5,
		NumCommunities:          4,
		MembersPerCommunity:     6,
		ConversationsPerUser:    2,
		MessagesPerConversation: 6,
		MaxDays:                 60,
	}
}

// Summary counts what a run created.
type Summary struct {
	Users         int
	Posts         int
	Comments      int
	Likes         int
	Follows       int
	Communities   int
	Memberships   int
	Conversations int
	Messages      int
}

// Seeder writes generated data through the repositories, so counters are
// re-derived and row changes are published like any other write.
type Seeder struct {
	db          *gorm.DB
	opts        Options
	factory     *Factory
	users       repository.UserRepository
	posts       repository.PostRepository
	comments    repository.CommentRepository
	likes       repository.LikeRepository
	follows     repository.FollowRepository
	communities repository.CommunityRepository
	chat        repository.ChatRepository
}

// NewSeeder creates a Seeder. pub may be nil when no live sessions need to
// hear about seeded rows.
func NewSeeder(db *gorm.DB, pub repository.Publisher, opts Options) *Seeder {
	c := cache.New(nil)
	return &Seeder{
		db:          db,
		opts:        opts,
		factory:     NewFactory(opts),
		users:       repository.NewUserRepository(db, pub, c),
		posts:       repository.NewPostRepository(db, pub, c),
		comments:    repository.NewCommentRepository(db, pub, c),
		likes:       repository.NewLikeRepository(db, pub, c),
		follows:     repository.NewFollowRepository(db, pub, c),
		communities: repository.NewCommunityRepository(db, pub),
		chat:        repository.NewChatRepository(db, pub, c),
	}
}

// Seed populates the database.
func (s *Seeder) Seed(ctx context.Context) (Summary, error) {
	var sum Summary
	log.Printf("🌱 Seeding %d users...", s.opts.NumUsers)

	if s.opts.ShouldClean && !s.opts.DryRun {
		if err := Clean(ctx, s.db); err != nil {
			return sum, fmt.Errorf("clean: %w", err)
		}
	}

	userIDs, err := s.seedUsers(ctx, &sum)
	if err != nil {
		return sum, fmt.Errorf("users: %w", err)
	}
	if err := s.seedPosts(ctx, userIDs, &sum); err != nil {
		return sum, fmt.Errorf("posts: %w", err)
	}
	if err := s.seedFollows(ctx, userIDs, &sum); err != nil {
		return sum, fmt.Errorf("follows: %w", err)
	}
	if err := s.seedCommunities(ctx, userIDs, &sum); err != nil {
		return sum, fmt.Errorf("communities: %w", err)
	}
	if err := s.seedConversations(ctx, userIDs, &sum); err != nil {
		return sum, fmt.Errorf("conversations: %w", err)
	}

	log.Printf("🎉 Seeding complete: %+v", sum)
	return sum, nil
}

func (s *Seeder) seedUsers(ctx context.Context, sum *Summary) ([]string, error) {
	ids := make([]string, 0, s.opts.NumUsers)
	for i := 0; i < s.opts.NumUsers; i++ {
		u := s.factory.BuildUser()
		if !s.opts.DryRun {
			if err := s.users.Create(ctx, u); err != nil {
				return nil, err
			}
		}
		ids = append(ids, u.ID)
		sum.Users++
	}
	return ids, nil
}

func (s *Seeder) seedPosts(ctx context.Context, userIDs []string, sum *Summary) error {
	for _, author := range userIDs {
		for i := 0; i < s.opts.PostsPerUser; i++ {
			p := s.factory.BuildPost(author)
			if !s.opts.DryRun {
				if err := s.posts.Create(ctx, p); err != nil {
					return err
				}
			}
			sum.Posts++
			if p.Status != models.PostStatusPublished {
				continue
			}
			if err := s.seedComments(ctx, p.ID, userIDs, sum); err != nil {
				return err
			}
			for _, liker := range s.factory.Pick(userIDs, s.opts.LikesPerPost, "") {
				like := &models.Like{SubjectType: models.SubjectPost, SubjectID: p.ID, UserID: liker}
				if !s.opts.DryRun {
					if err := s.likes.Insert(ctx, like); err != nil {
						return err
					}
				}
				sum.Likes++
			}
		}
	}
	return nil
}

// seedComments writes roots first, then one level of replies under them.
func (s *Seeder) seedComments(ctx context.Context, postID string, userIDs []string, sum *Summary) error {
	var roots []string
	for i := 0; i < s.opts.CommentsPerPost; i++ {
		author := s.factory.Pick(userIDs, 1, "")
		if len(author) == 0 {
			return nil
		}
		parent := ""
		if len(roots) > 0 && i%2 == 1 {
			parent = roots[len(roots)-1]
		}
		c := s.factory.BuildComment(postID, author[0], parent)
		if !s.opts.DryRun {
			if err := s.comments.Create(ctx, c); err != nil {
				return err
			}
		}
		if parent == "" {
			roots = append(roots, c.ID)
		}
		sum.Comments++
	}
	return nil
}

func (s *Seeder) seedFollows(ctx context.Context, userIDs []string, sum *Summary) error {
	for _, follower := range userIDs {
		for _, following := range s.factory.Pick(userIDs, s.opts.FollowsPerUser, follower) {
			f := &models.Follow{FollowerID: follower, FollowingID: following}
			if !s.opts.DryRun {
				if err := s.follows.Insert(ctx, f); err != nil {
					return err
				}
			}
			sum.Follows++
		}
	}
	return nil
}

func (s *Seeder) seedCommunities(ctx context.Context, userIDs []string, sum *Summary) error {
	if len(userIDs) == 0 {
		return nil
	}
	for i := 0; i < s.opts.NumCommunities; i++ {
		owner := userIDs[i%len(userIDs)]
		c := s.factory.BuildCommunity(owner)
		if !s.opts.DryRun {
			if _, err := s.communities.CreateWithOwner(ctx, c); err != nil {
				return err
			}
		}
		sum.Communities++
		sum.Memberships++

		for _, member := range s.factory.Pick(userIDs, s.opts.MembersPerCommunity, owner) {
			m := &models.Membership{CommunityID: c.ID, UserID: member, Role: models.MembershipRoleMember}
			if !s.opts.DryRun {
				if err := s.communities.Join(ctx, m); err != nil {
					return err
				}
			}
			sum.Memberships++
		}
	}
	return nil
}

// seedConversations opens conversations between random pairs. A pair that
// already has a conversation reuses it, as a client would.
func (s *Seeder) seedConversations(ctx context.Context, userIDs []string, sum *Summary) error {
	seen := make(map[string]bool)
	for _, me := range userIDs {
		for _, other := range s.factory.Pick(userIDs, s.opts.ConversationsPerUser, me) {
			conv, err := s.factory.BuildConversation(me, other)
			if err != nil {
				return err
			}
			key := conv.Participant1 + ":" + conv.Participant2
			if seen[key] {
				continue
			}
			seen[key] = true
			if !s.opts.DryRun {
				if err := s.chat.CreateConversation(ctx, conv); err != nil {
					return err
				}
			}
			sum.Conversations++

			base := s.factory.pastTime()
			for i := 0; i < s.opts.MessagesPerConversation; i++ {
				sender := conv.Participant1
				if i%2 == 1 {
					sender = conv.Participant2
				}
				msg := s.factory.BuildMessage(conv, sender, base, i)
				if !s.opts.DryRun {
					if err := s.chat.CreateMessage(ctx, msg); err != nil {
						return err
					}
				}
				sum.Messages++
			}
		}
	}
	return nil
}

// Clean deletes every row of every persistent model, children first.
func Clean(ctx context.Context, db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	all := database.PersistentModels()
	tx := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for i := len(all) - 1; i >= 0; i-- {
		if err := tx.Delete(all[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
