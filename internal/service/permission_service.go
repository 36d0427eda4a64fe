package service

import (
	"context"

	"github.com/rs/zerolog"

	"tallybook/api/internal/models"
	"tallybook/api/internal/repository"
)

// PermissionService decides whether a principal may perform an action on a
// feature. Unknown features, actions and pairs are denied, never guessed.
type PermissionService struct {
	perms     PermissionStore
	adminRole string
	log       zerolog.Logger
}

func NewPermissionService(perms PermissionStore, adminRole string, log zerolog.Logger) *PermissionService {
	return &PermissionService{
		perms:     perms,
		adminRole: adminRole,
		log:       log,
	}
}

// Authorize resolves the (feature, action) pair against the catalog and the
// user's grants. The admin role bypasses the catalog entirely, so admins are
// never locked out by missing catalog rows. Storage errors propagate; the
// boundary denies on them.
func (s *PermissionService) Authorize(ctx context.Context, user models.User, feature string, action string) (bool, error) {
	if !user.Active {
		return false, nil
	}
	if user.Role == s.adminRole {
		return true, nil
	}

	featureID, ok, err := s.perms.FeatureID(ctx, feature)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Warn().Str("user_id", user.ID).Str("feature", feature).Msg("authorize: unknown feature")
		return false, nil
	}

	actionID, ok, err := s.perms.ActionID(ctx, action)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Warn().Str("user_id", user.ID).Str("action", action).Msg("authorize: unknown action")
		return false, nil
	}

	permissionID, ok, err := s.perms.PermissionID(ctx, featureID, actionID)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Warn().
			Str("user_id", user.ID).
			Str("feature", feature).
			Str("action", action).
			Msg("authorize: no permission for pair")
		return false, nil
	}

	return s.perms.HasGrant(ctx, user.ID, permissionID)
}

// Require is Authorize for callers that want an error instead of a bool: a
// denial is ErrUnauthorized, storage failures pass through unchanged.
func (s *PermissionService) Require(ctx context.Context, user models.User, feature string, action string) error {
	allowed, err := s.Authorize(ctx, user, feature, action)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrUnauthorized
	}
	return nil
}

// ListPermissions returns the effective permission set. Admins resolve to
// the whole catalog, computed rather than stored, so newly added features
// and actions cover them automatically.
func (s *PermissionService) ListPermissions(ctx context.Context, user models.User) ([]models.Permission, error) {
	if user.Active && user.Role == s.adminRole {
		return s.perms.ListCatalog(ctx)
	}
	return s.perms.ListGrants(ctx, user.ID)
}

// Grant gives the user the (feature, action) capability. Granting an
// already-held permission fails with repository.ErrAlreadyGranted.
func (s *PermissionService) Grant(ctx context.Context, userID string, feature string, action string) error {
	permissionID, err := s.resolvePermission(ctx, feature, action)
	if err != nil {
		return err
	}
	return s.perms.Grant(ctx, userID, permissionID)
}

// Revoke removes the grant; removing an absent grant is a no-op.
func (s *PermissionService) Revoke(ctx context.Context, userID string, feature string, action string) error {
	permissionID, err := s.resolvePermission(ctx, feature, action)
	if err != nil {
		return err
	}
	_, err = s.perms.RevokeGrant(ctx, userID, permissionID)
	return err
}

// EnsureCatalog seeds the feature×action permission catalog.
func (s *PermissionService) EnsureCatalog(ctx context.Context, features []string, actions []string) error {
	return s.perms.EnsureCatalog(ctx, features, actions)
}

func (s *PermissionService) resolvePermission(ctx context.Context, feature string, action string) (string, error) {
	featureID, ok, err := s.perms.FeatureID(ctx, feature)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", repository.ErrPermissionNotFound
	}
	actionID, ok, err := s.perms.ActionID(ctx, action)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", repository.ErrPermissionNotFound
	}
	permissionID, ok, err := s.perms.PermissionID(ctx, featureID, actionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", repository.ErrPermissionNotFound
	}
	return permissionID, nil
}
