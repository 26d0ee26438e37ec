// Command seed fills the database with demo data.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/config"
	"socialsync/internal/database"
	"socialsync/internal/middleware"
	"socialsync/internal/notifications"
	"socialsync/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	opts := defaults
	flag.IntVar(&opts.NumUsers, "users", 50, "Number of users to create")
	flag.IntVar(&opts.PostsPerUser, "posts", defaults.PostsPerUser, "Posts per user")
	flag.IntVar(&opts.CommentsPerPost, "comments", defaults.CommentsPerPost, "Comments per published post")
	flag.IntVar(&opts.LikesPerPost, "likes", defaults.LikesPerPost, "Likes per published post")
	flag.IntVar(&opts.FollowsPerUser, "follows", defaults.FollowsPerUser, "Users each user follows")
	flag.IntVar(&opts.NumCommunities, "communities", defaults.NumCommunities, "Number of communities")
	flag.IntVar(&opts.ConversationsPerUser, "conversations", defaults.ConversationsPerUser, "Conversations opened per user")
	flag.IntVar(&opts.MessagesPerConversation, "messages", defaults.MessagesPerConversation, "Messages per conversation")
	flag.Int64Var(&opts.RandomSeed, "seed", 0, "Random seed; 0 picks one")
	flag.BoolVar(&opts.ShouldClean, "clean", true, "Clean database before seeding")
	flag.BoolVar(&opts.DryRun, "dry-run", false, "Generate without writing")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.ConfigureLogger(cfg.Env, cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Running servers hear about seeded rows when Redis is up.
	pub := notifications.NewNotifier(cache.Connect(context.Background(), cfg.RedisURL))

	start := time.Now()
	sum, err := seed.NewSeeder(db, pub, opts).Seed(context.Background())
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ Done in %s: %d users, %d posts, %d comments, %d likes, %d follows, %d communities, %d conversations, %d messages",
		time.Since(start).Round(time.Millisecond), sum.Users, sum.Posts, sum.Comments, sum.Likes, sum.Follows,
		sum.Communities, sum.Conversations, sum.Messages)
}
