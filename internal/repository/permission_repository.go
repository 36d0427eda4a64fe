package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tallybook/api/internal/ids"
	"tallybook/api/internal/models"
)

var (
	ErrPermissionNotFound = errors.New("permission not found")
	ErrAlreadyGranted     = errors.New("permission already granted")
)

// PermissionRepository backs the feature×action capability catalog and the
// per-user grant table.
type PermissionRepository struct {
	pool *pgxpool.Pool
}

func NewPermissionRepository(pool *pgxpool.Pool) *PermissionRepository {
	return &PermissionRepository{pool: pool}
}

func (r *PermissionRepository) FeatureID(ctx context.Context, name string) (string, bool, error) {
	const query = `SELECT id FROM features WHERE name = $1`
	return r.lookupID(ctx, query, name)
}

func (r *PermissionRepository) ActionID(ctx context.Context, name string) (string, bool, error) {
	const query = `SELECT id FROM actions WHERE name = $1`
	return r.lookupID(ctx, query, name)
}

func (r *PermissionRepository) PermissionID(ctx context.Context, featureID string, actionID string) (string, bool, error) {
	const query = `SELECT id FROM permissions WHERE feature_id = $1 AND action_id = $2`
	return r.lookupID(ctx, query, featureID, actionID)
}

func (r *PermissionRepository) lookupID(ctx context.Context, query string, args ...any) (string, bool, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (r *PermissionRepository) HasGrant(ctx context.Context, userID string, permissionID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM user_permissions WHERE user_id = $1 AND permission_id = $2
		)
	`
	row := r.pool.QueryRow(ctx, query, userID, permissionID)
	var found bool
	if err := row.Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (r *PermissionRepository) Grant(ctx context.Context, userID string, permissionID string) error {
	const query = `
		INSERT INTO user_permissions (user_id, permission_id, granted_at)
		VALUES ($1, $2, NOW())
	`
	_, err := r.pool.Exec(ctx, query, userID, permissionID)
	if isUniqueViolation(err) {
		return ErrAlreadyGranted
	}
	return err
}

func (r *PermissionRepository) RevokeGrant(ctx context.Context, userID string, permissionID string) (bool, error) {
	const query = `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`
	cmd, err := r.pool.Exec(ctx, query, userID, permissionID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListCatalog returns every permission in the catalog with resolved names.
func (r *PermissionRepository) ListCatalog(ctx context.Context) ([]models.Permission, error) {
	const query = `
		SELECT p.id, f.name, a.name
		FROM permissions p
		JOIN features f ON f.id = p.feature_id
		JOIN actions a ON a.id = p.action_id
		ORDER BY f.name, a.name
	`
	return r.queryPermissions(ctx, query)
}

// ListGrants returns the permissions explicitly granted to one user.
func (r *PermissionRepository) ListGrants(ctx context.Context, userID string) ([]models.Permission, error) {
	const query = `
		SELECT p.id, f.name, a.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		JOIN features f ON f.id = p.feature_id
		JOIN actions a ON a.id = p.action_id
		WHERE up.user_id = $1
		ORDER BY f.name, a.name
	`
	return r.queryPermissions(ctx, query, userID)
}

func (r *PermissionRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]models.Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []models.Permission
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.ID, &p.Feature, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsureCatalog idempotently seeds the given features, actions and their
// full cartesian product of permissions.
func (r *PermissionRepository) EnsureCatalog(ctx context.Context, features []string, actions []string) error {
	for _, name := range features {
		const query = `INSERT INTO features (id, name, created_at) VALUES ($1, $2, NOW()) ON CONFLICT (name) DO NOTHING`
		if _, err := r.pool.Exec(ctx, query, ids.New(), name); err != nil {
			return err
		}
	}
	for _, name := range actions {
		const query = `INSERT INTO actions (id, name, created_at) VALUES ($1, $2, NOW()) ON CONFLICT (name) DO NOTHING`
		if _, err := r.pool.Exec(ctx, query, ids.New(), name); err != nil {
			return err
		}
	}

	const pairs = `
		SELECT f.id, a.id
		FROM features f CROSS JOIN actions a
		WHERE NOT EXISTS (
			SELECT 1 FROM permissions p WHERE p.feature_id = f.id AND p.action_id = a.id
		)
	`
	rows, err := r.pool.Query(ctx, pairs)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pair struct{ featureID, actionID string }
	var missing []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.featureID, &p.actionID); err != nil {
			return err
		}
		missing = append(missing, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range missing {
		const query = `
			INSERT INTO permissions (id, feature_id, action_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (feature_id, action_id) DO NOTHING
		`
		if _, err := r.pool.Exec(ctx, query, ids.New(), p.featureID, p.actionID); err != nil {
			return err
		}
	}
	return nil
}
