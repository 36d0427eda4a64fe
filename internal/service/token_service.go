package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tallybook/api/internal/models"
	"tallybook/api/internal/security"
)

const revokedCachePrefix = "auth:revoked:"

// TokenPair is one freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService orchestrates issuance, verification, rotation and revocation
// of bearer tokens. The durable TokenStore is the single source of truth for
// validity; the redis cache only short-circuits already-known revocations
// and is never consulted as the sole check.
type TokenService struct {
	tokens     TokenStore
	users      UserStore
	codec      *security.Codec
	cache      *redis.Client
	accessTTL  time.Duration
	refreshTTL time.Duration
	log        zerolog.Logger
}

func NewTokenService(
	tokens TokenStore,
	users UserStore,
	codec *security.Codec,
	cache *redis.Client,
	accessTTL time.Duration,
	refreshTTL time.Duration,
	log zerolog.Logger,
) *TokenService {
	return &TokenService{
		tokens:     tokens,
		users:      users,
		codec:      codec,
		cache:      cache,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		log:        log,
	}
}

// Issue mints a fresh access/refresh pair for the user and persists both
// records. Tokens are usable from the moment this returns.
func (s *TokenService) Issue(ctx context.Context, user models.User) (TokenPair, error) {
	now := time.Now().UTC()

	access, accessJTI, err := s.codec.Encode(user.ID, user.Email, models.TokenKindAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshJTI, err := s.codec.Encode(user.ID, user.Email, models.TokenKindRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	if err := s.tokens.Create(ctx, models.TokenRecord{
		JTI:       accessJTI,
		UserID:    user.ID,
		Kind:      models.TokenKindAccess,
		ExpiresAt: accessExp,
	}); err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Create(ctx, models.TokenRecord{
		JTI:       refreshJTI,
		UserID:    user.ID,
		Kind:      models.TokenKindRefresh,
		ExpiresAt: refreshExp,
	}); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify decodes the token, requires the expected kind and checks durable
// state. On success for an access token the last-used timestamp is touched
// asynchronously; a failed touch never fails the request.
func (s *TokenService) Verify(ctx context.Context, tokenStr string, kind models.TokenKind) (*security.Claims, error) {
	claims, err := s.codec.Decode(tokenStr)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrTokenInvalidated
		}
		return nil, ErrMalformedToken
	}

	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrMalformedToken
	}
	if claims.Kind() != kind {
		return nil, ErrMalformedToken
	}

	if s.revokedInCache(ctx, claims.ID) {
		return nil, ErrTokenInvalidated
	}

	valid, err := s.tokens.IsValid(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrTokenInvalidated
	}

	if kind == models.TokenKindAccess {
		go s.touchLastUsed(claims.ID)
	}

	return claims, nil
}

// Refresh rotates the presented refresh token: it is revoked first, then a
// fresh pair is issued for the same subject. Revoke-then-issue ordering
// guarantees a failure between the steps terminates the session instead of
// leaving the old token reusable. Of two concurrent rotations of the same
// token, exactly one wins the conditional revoke; the other observes the
// token as invalidated.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.Verify(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	won, err := s.tokens.SetRevoked(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if !won {
		return TokenPair{}, ErrTokenInvalidated
	}
	if claims.ExpiresAt != nil {
		s.cacheRevocation(ctx, claims.ID, claims.ExpiresAt.Time)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return TokenPair{}, ErrTokenInvalidated
	}
	if !user.Active {
		return TokenPair{}, ErrAccountInactive
	}

	return s.Issue(ctx, user)
}

// Invalidate marks the token revoked regardless of its remaining validity.
// The payload is decoded without signature verification: a token presented
// at logout may already be past expiry, and revoking it is still correct.
// Returns false when no token id could be extracted.
func (s *TokenService) Invalidate(ctx context.Context, tokenStr string) bool {
	claims, err := s.codec.DecodeUnverified(tokenStr)
	if err != nil || claims.ID == "" {
		return false
	}

	if _, err := s.tokens.SetRevoked(ctx, claims.ID); err != nil {
		s.log.Error().Err(err).Str("jti", claims.ID).Msg("revoke token failed")
		return false
	}
	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	s.cacheRevocation(ctx, claims.ID, expiry)
	return true
}

// RevokeAll revokes every currently active token owned by the user, both
// kinds. Used for forced logout and account compromise response.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("user_id", userID).Int64("revoked", count).Msg("revoked all user tokens")
	return count, nil
}

func (s *TokenService) touchLastUsed(jti string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.tokens.TouchLastUsed(ctx, jti, time.Now().UTC()); err != nil {
		s.log.Warn().Err(err).Str("jti", jti).Msg("touch last_used failed")
	}
}

func (s *TokenService) revokedInCache(ctx context.Context, jti string) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Exists(ctx, revokedCachePrefix+jti).Result()
	if err != nil {
		// Cache miss on error: fall through to the durable check.
		return false
	}
	return found > 0
}

func (s *TokenService) cacheRevocation(ctx context.Context, jti string, expiresAt time.Time) {
	if s.cache == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, revokedCachePrefix+jti, 1, ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("jti", jti).Msg("revocation cache write failed")
	}
}
