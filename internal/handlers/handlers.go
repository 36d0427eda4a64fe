package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tallybook/api/internal/config"
	"tallybook/api/internal/middleware"
	"tallybook/api/internal/repository"
	"tallybook/api/internal/security"
	"tallybook/api/internal/service"
)

// Features and actions seeded into the permission catalog at startup. The
// CRUD collaborators register their routes against these names.
var (
	CatalogFeatures = []string{"expenses", "categories", "payment_methods", "todo_items", "todo_projects", "users"}
	CatalogActions  = []string{"create", "read", "update", "delete"}
)

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	authService *service.AuthService
	tokens      *service.TokenService
	resolver    *service.PermissionService
	cleanup     *service.CleanupService
	db          *pgxpool.Pool
	cache       *redis.Client
	users       *repository.UserRepository
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, cache *redis.Client, cfg *config.AppConfig) (HandlerSet, error) {
	codec, err := security.NewCodec(cfg.Security.JWTSecret, cfg.Security.JWTAlgorithm)
	if err != nil {
		return HandlerSet{}, err
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	permRepo := repository.NewPermissionRepository(db)

	tokens := service.NewTokenService(
		tokenRepo, userRepo, codec, cache,
		cfg.Security.AccessTTL, cfg.Security.RefreshTTL, log,
	)
	auth := service.NewAuthService(userRepo, tokens, log)
	resolver := service.NewPermissionService(permRepo, cfg.Security.AdminRole, log)
	cleanup := service.NewCleanupService(
		tokenRepo, db, cache,
		cfg.Cleanup.Retention(), cfg.Cleanup.BatchSize, log,
	)

	return HandlerSet{
		log:         log,
		cfg:         cfg,
		authService: auth,
		tokens:      tokens,
		resolver:    resolver,
		cleanup:     cleanup,
		db:          db,
		cache:       cache,
		users:       userRepo,
	}, nil
}

// Cleanup exposes the janitor core for the scheduler wiring in main.
func (h HandlerSet) Cleanup() *service.CleanupService {
	return h.cleanup
}

// Resolver exposes the permission resolver for catalog seeding in main.
func (h HandlerSet) Resolver() *service.PermissionService {
	return h.resolver
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.SignUp)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.tokens, h.users))
		protected.GET("/me", h.Me)
		protected.GET("/me/permissions", h.MyPermissions)
		protected.POST("/password", h.ChangePassword)
	}

	admin := v1.Group("/admin")
	admin.Use(
		middleware.Auth(h.tokens, h.users),
		middleware.RequireRole(h.cfg.Security.AdminRole),
	)
	admin.GET("/users", h.AdminListUsers)
	admin.POST("/users", h.AdminCreateUser)
	admin.POST("/users/:id/deactivate", h.AdminDeactivateUser)
	admin.DELETE("/users/:id", h.AdminDeleteUser)
	admin.POST("/users/:id/revoke", h.AdminRevokeTokens)
	admin.POST("/users/:id/permissions", h.AdminGrantPermission)
	admin.DELETE("/users/:id/permissions", h.AdminRevokePermission)

	admin.GET("/tokens/stats", h.AdminTokenStats)
	admin.POST("/tokens/cleanup", h.AdminRunCleanup)
	admin.GET("/tokens/cleanup/dry-run", h.AdminDryRunCleanup)
	admin.GET("/tokens/health", h.AdminCleanupHealth)
}
