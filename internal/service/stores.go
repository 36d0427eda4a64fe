package service

import (
	"context"
	"time"

	"tallybook/api/internal/models"
)

// TokenStore is the durable source of truth for token validity. Implemented
// by repository.TokenRepository; tests substitute in-memory fakes.
type TokenStore interface {
	Create(ctx context.Context, rec models.TokenRecord) error
	Get(ctx context.Context, jti string) (models.TokenRecord, error)
	SetRevoked(ctx context.Context, jti string) (bool, error)
	TouchLastUsed(ctx context.Context, jti string, now time.Time) error
	IsValid(ctx context.Context, jti string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time, batch int) (int64, error)
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
	CountExpired(ctx context.Context, before time.Time) (int64, error)
	CountRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (models.TokenStats, error)
}

// UserStore is the persistence surface the auth flows need from the user
// table.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id string, hash []byte, mustChange bool) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int, offset int) ([]models.User, error)
}

// PermissionStore resolves the capability catalog and per-user grants.
type PermissionStore interface {
	FeatureID(ctx context.Context, name string) (string, bool, error)
	ActionID(ctx context.Context, name string) (string, bool, error)
	PermissionID(ctx context.Context, featureID string, actionID string) (string, bool, error)
	HasGrant(ctx context.Context, userID string, permissionID string) (bool, error)
	Grant(ctx context.Context, userID string, permissionID string) error
	RevokeGrant(ctx context.Context, userID string, permissionID string) (bool, error)
	ListCatalog(ctx context.Context) ([]models.Permission, error)
	ListGrants(ctx context.Context, userID string) ([]models.Permission, error)
	EnsureCatalog(ctx context.Context, features []string, actions []string) error
}
