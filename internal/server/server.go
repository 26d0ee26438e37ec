// Package server exposes the sync sessions over HTTP and pushes local
// collection changes to UI clients over WebSocket.
package server

import (
	"context"
	"fmt"
	"time"

	"socialsync/internal/cache"
	"socialsync/internal/config"
	"socialsync/internal/database"
	"socialsync/internal/featureflags"
	"socialsync/internal/middleware"
	"socialsync/internal/models"
	"socialsync/internal/notifications"
	"socialsync/internal/reconcile"
	"socialsync/internal/repository"
	"socialsync/internal/service"
	"socialsync/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ChangeBus both publishes committed row changes and serves them to
// session reconcilers.
type ChangeBus interface {
	repository.Publisher
	reconcile.Feed
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	hub            *notifications.Hub
	sessions       *SessionManager
	featureFlags   *featureflags.Manager
	auth           *middleware.Authenticator
}

// NewServer connects to the database and Redis and creates a server.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return NewServerWithDeps(cfg, db, cache.Connect(context.Background(), cfg.RedisURL))
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Changes travel over Redis pub/sub; a nil client leaves sessions without
// remote change events.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	store, err := storage.NewLocalStore(cfg.MediaRoot, cfg.MediaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}
	return NewServerWithBus(cfg, db, redisClient, notifications.NewNotifier(redisClient), store), nil
}

// NewServerWithBus creates a Server on an explicit change bus and object store.
func NewServerWithBus(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, bus ChangeBus, store storage.ObjectStore) *Server {
	c := cache.New(redisClient)
	flags := featureflags.NewManager(cfg.FeatureFlags)

	deps := service.Deps{
		Users:       repository.NewUserRepository(db, bus, c),
		Posts:       repository.NewPostRepository(db, bus, c),
		Likes:       repository.NewLikeRepository(db, bus, c),
		Comments:    repository.NewCommentRepository(db, bus, c),
		Follows:     repository.NewFollowRepository(db, bus, c),
		Communities: repository.NewCommunityRepository(db, bus),
		Chat:        repository.NewChatRepository(db, bus, c),
		Feed:        bus,
		Store:       store,
		Flags:       flags,
		Timeout:     cfg.OptimisticTimeout(),
		FeedLimit:   cfg.FeedLimit,
		LikeLimit:   cfg.LikeLimit,
	}

	hub := notifications.NewHub()
	sessions := NewSessionManager(deps, hub.Push,
		WithPresence(hub.Connected),
		WithIdleTTL(cfg.SessionIdleTTL()),
	)
	hub.OnIdle(func(userID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.OptimisticTimeout()+5*time.Second)
			defer cancel()
			if err := sessions.Release(ctx, userID); err != nil {
				middleware.Logger.Warn("session release failed", "user_id", userID, "error", err)
			}
		}()
	})
	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("socialsync-api"),
		hub:            hub,
		sessions:       sessions,
		featureFlags:   flags,
		auth:           middleware.NewAuthenticator(cfg.JWTSecret),
	}
}

// Sessions returns the per-user session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}
	app.Use(helmet.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.StructuredLogger())

	// CORS runs before middlewares that can short-circuit so browser
	// clients still see CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	if s.config.MediaRoot != "" {
		app.Static("/media", s.config.MediaRoot)
	}

	api := app.Group("/api")

	// Registered ahead of the protected group: upgrades carry the token in
	// the query string.
	api.Get("/ws", s.auth.WebSocket, s.WebSocketUpgrade, s.WebsocketHandler())

	protected := api.Group("", s.auth.Required, s.SessionRequired())

	me := protected.Group("/me")
	me.Get("/", s.GetMe)
	me.Get("/following", s.GetFollowing)
	me.Get("/followers", s.GetFollowers)
	me.Get("/feature-flags", s.GetFeatureFlags)

	protected.Get("/feed", s.GetFeed)

	posts := protected.Group("/posts")
	posts.Post("/", middleware.RateLimit(s.redis, 30, time.Minute, "create_post"), s.CreatePost)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", middleware.RateLimit(s.redis, 60, time.Minute, "create_comment"), s.CreateComment)
	posts.Post("/:id/like/toggle", s.TogglePostLike)
	posts.Post("/:id/like", s.LikePost)
	posts.Delete("/:id/like", s.UnlikePost)
	posts.Get("/:id", s.GetPost)

	protected.Post("/comments/:id/like/toggle", s.ToggleCommentLike)

	users := protected.Group("/users")
	users.Post("/:id/follow/toggle", s.ToggleFollow)
	users.Post("/:id/follow", s.Follow)
	users.Delete("/:id/follow", s.Unfollow)
	users.Get("/:id", s.GetUserProfile)

	communities := protected.Group("/communities")
	communities.Get("/", s.GetCommunities)
	communities.Post("/", s.CreateCommunity)
	communities.Post("/:id/join", s.JoinCommunity)
	communities.Delete("/:id/join", s.LeaveCommunity)
	communities.Get("/:id", s.GetCommunity)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	conversations.Post("/", s.CreateConversation)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(s.redis, 60, time.Minute, "send_chat"), s.SendMessage)
	conversations.Post("/:id/read", s.MarkAsRead)

	protected.Delete("/watches/:kind/:target", s.Unwatch)
}

// App builds the Fiber app with middleware and routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "socialsync",
		BodyLimit: 12 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start serves the API on the configured port.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("listening", "port", s.config.Port, "env", s.config.Env)
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests, settles every session, then closes
// the stores. Errors are logged and shutdown continues.
func (s *Server) Shutdown(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"http", func() error {
			if s.app == nil {
				return nil
			}
			return s.app.ShutdownWithContext(ctx)
		}},
		{"sessions", func() error { return s.sessions.Close(ctx) }},
		{"hub", func() error { return s.hub.Shutdown(ctx) }},
		{"database", func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}},
		{"redis", func() error {
			if s.redis == nil {
				return nil
			}
			return s.redis.Close()
		}},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			middleware.Logger.Error("shutdown step failed", "step", step.name, "error", err)
		}
	}
	middleware.Logger.Info("shutdown complete")
	return nil
}
