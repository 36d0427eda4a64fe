package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tallybook/api/internal/models"
)

var ErrTokenNotFound = errors.New("token not found")

// TokenRepository is the durable record of every issued access and refresh
// token. All timestamps are stored as timestamptz and compared in UTC.
type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, rec models.TokenRecord) error {
	const query = `
		INSERT INTO auth_tokens (
			jti, user_id, kind, expires_at, revoked, issued_at, last_used_at
		) VALUES (
			$1, $2, $3, $4, FALSE, NOW(), NOW()
		)
	`
	_, err := r.pool.Exec(ctx, query, rec.JTI, rec.UserID, rec.Kind, rec.ExpiresAt)
	return err
}

func (r *TokenRepository) Get(ctx context.Context, jti string) (models.TokenRecord, error) {
	const query = `
		SELECT jti, user_id, kind, expires_at, revoked, revoked_at, issued_at, last_used_at
		FROM auth_tokens
		WHERE jti = $1
	`

	row := r.pool.QueryRow(ctx, query, jti)
	var rec models.TokenRecord
	if err := row.Scan(
		&rec.JTI,
		&rec.UserID,
		&rec.Kind,
		&rec.ExpiresAt,
		&rec.Revoked,
		&rec.RevokedAt,
		&rec.IssuedAt,
		&rec.LastUsedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TokenRecord{}, ErrTokenNotFound
		}
		return models.TokenRecord{}, err
	}
	return rec, nil
}

// SetRevoked marks the token revoked and reports whether this call made the
// transition. A false return means the token was already revoked: under two
// concurrent refresh rotations of the same token, exactly one caller wins.
func (r *TokenRepository) SetRevoked(ctx context.Context, jti string) (bool, error) {
	const query = `
		UPDATE auth_tokens
		SET revoked = TRUE, revoked_at = NOW()
		WHERE jti = $1 AND NOT revoked
	`
	cmd, err := r.pool.Exec(ctx, query, jti)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *TokenRepository) TouchLastUsed(ctx context.Context, jti string, now time.Time) error {
	const query = `UPDATE auth_tokens SET last_used_at = $2 WHERE jti = $1`
	_, err := r.pool.Exec(ctx, query, jti, now)
	return err
}

// IsValid reports whether the token exists, is not revoked and has not
// expired. A missing row is not an error; the token is simply invalid.
func (r *TokenRepository) IsValid(ctx context.Context, jti string) (bool, error) {
	const query = `
		SELECT NOT revoked AND expires_at > NOW()
		FROM auth_tokens
		WHERE jti = $1
	`
	row := r.pool.QueryRow(ctx, query, jti)
	var valid bool
	if err := row.Scan(&valid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return valid, nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	const query = `
		UPDATE auth_tokens
		SET revoked = TRUE, revoked_at = NOW()
		WHERE user_id = $1 AND NOT revoked AND expires_at > NOW()
	`
	cmd, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteExpired removes up to batch tokens whose expiry precedes the cutoff.
// Callers loop until the returned count drops below the batch size.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time, batch int) (int64, error) {
	const query = `
		DELETE FROM auth_tokens
		WHERE jti IN (
			SELECT jti FROM auth_tokens
			WHERE expires_at < $1
			LIMIT $2
		)
	`
	cmd, err := r.pool.Exec(ctx, query, before, batch)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// DeleteRevokedBefore removes up to batch revoked tokens whose revocation is
// older than the cutoff. Tokens revoked inside the retention window stay.
func (r *TokenRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	const query = `
		DELETE FROM auth_tokens
		WHERE jti IN (
			SELECT jti FROM auth_tokens
			WHERE revoked AND revoked_at < $1
			LIMIT $2
		)
	`
	cmd, err := r.pool.Exec(ctx, query, cutoff, batch)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *TokenRepository) CountExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM auth_tokens WHERE expires_at < $1`
	return r.countOne(ctx, query, before)
}

func (r *TokenRepository) CountRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM auth_tokens WHERE revoked AND revoked_at < $1`
	return r.countOne(ctx, query, cutoff)
}

func (r *TokenRepository) countOne(ctx context.Context, query string, args ...any) (int64, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *TokenRepository) Stats(ctx context.Context) (models.TokenStats, error) {
	const query = `
		SELECT kind,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE NOT revoked AND expires_at > NOW()),
		       COUNT(*) FILTER (WHERE revoked),
		       COUNT(*) FILTER (WHERE expires_at <= NOW())
		FROM auth_tokens
		GROUP BY kind
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return models.TokenStats{}, err
	}
	defer rows.Close()

	var stats models.TokenStats
	for rows.Next() {
		var kind models.TokenKind
		var ks models.KindStats
		if err := rows.Scan(&kind, &ks.Total, &ks.Active, &ks.Revoked, &ks.Expired); err != nil {
			return models.TokenStats{}, err
		}
		switch kind {
		case models.TokenKindAccess:
			stats.Access = ks
		case models.TokenKindRefresh:
			stats.Refresh = ks
		}
	}
	return stats, rows.Err()
}
