package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tallybook/api/internal/models"
	"tallybook/api/internal/security"
)

func newTestTokenService(t *testing.T, tokens *memTokenStore, users *memUserStore) *TokenService {
	t.Helper()
	codec, err := security.NewCodec("test-secret-test-secret-test", "HS512")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return NewTokenService(tokens, users, codec, nil, time.Hour, 30*24*time.Hour, zerolog.Nop())
}

func testUser() models.User {
	return models.User{
		ID:     "u1",
		Email:  "user@example.com",
		Role:   "User",
		Active: true,
	}
}

func TestIssueAndVerify(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if !pair.AccessExpiresAt.After(time.Now()) {
		t.Fatalf("access expiry not in the future: %v", pair.AccessExpiresAt)
	}
	if store.len() != 2 {
		t.Fatalf("expected 2 persisted records, got %d", store.len())
	}

	claims, err := svc.Verify(ctx, pair.AccessToken, models.TokenKindAccess)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.IsRefresh() {
		t.Fatal("access token carries refresh discriminator")
	}

	valid, err := store.IsValid(ctx, claims.ID)
	if err != nil || !valid {
		t.Fatalf("expected stored record valid, got valid=%v err=%v", valid, err)
	}

	refreshClaims, err := svc.Verify(ctx, pair.RefreshToken, models.TokenKindRefresh)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if !refreshClaims.IsRefresh() {
		t.Fatal("refresh token missing discriminator")
	}
}

func TestVerifyRejectsKindMismatch(t *testing.T) {
	svc := newTestTokenService(t, newMemTokenStore(), newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := svc.Verify(ctx, pair.AccessToken, models.TokenKindRefresh); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("access-as-refresh: want ErrMalformedToken, got %v", err)
	}
	if _, err := svc.Verify(ctx, pair.RefreshToken, models.TokenKindAccess); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("refresh-as-access: want ErrMalformedToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestTokenService(t, newMemTokenStore(), newMemUserStore(testUser()))

	if _, err := svc.Verify(context.Background(), "not.a.token", models.TokenKindAccess); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("want ErrMalformedToken, got %v", err)
	}
}

func TestInvalidateThenVerifyFails(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if ok := svc.Invalidate(ctx, pair.AccessToken); !ok {
		t.Fatal("Invalidate returned false")
	}

	if _, err := svc.Verify(ctx, pair.AccessToken, models.TokenKindAccess); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("want ErrTokenInvalidated after revoke, got %v", err)
	}
}

func TestInvalidateGarbageReturnsFalse(t *testing.T) {
	svc := newTestTokenService(t, newMemTokenStore(), newMemUserStore(testUser()))

	if svc.Invalidate(context.Background(), "garbage") {
		t.Fatal("expected false for undecodable token")
	}
}

func TestRefreshRotatesAndPreventsReplay(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	if _, err := svc.Verify(ctx, rotated.AccessToken, models.TokenKindAccess); err != nil {
		t.Fatalf("rotated access token invalid: %v", err)
	}

	// Replay of the consumed token must fail.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("replay: want ErrTokenInvalidated, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrTokenInvalidated) {
			t.Fatalf("loser returned unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", wins)
	}
}

func TestRefreshRejectsInactiveUser(t *testing.T) {
	users := newMemUserStore(testUser())
	svc := newTestTokenService(t, newMemTokenStore(), users)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := users.SetActive(ctx, "u1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("want ErrAccountInactive, got %v", err)
	}
}

func TestRevokeAll(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	first, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	count, err := svc.RevokeAll(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 revoked tokens, got %d", count)
	}

	for _, token := range []string{first.AccessToken, second.AccessToken} {
		if _, err := svc.Verify(ctx, token, models.TokenKindAccess); !errors.Is(err, ErrTokenInvalidated) {
			t.Fatalf("want ErrTokenInvalidated after revoke-all, got %v", err)
		}
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := svc.Refresh(ctx, token); !errors.Is(err, ErrTokenInvalidated) {
			t.Fatalf("want ErrTokenInvalidated after revoke-all, got %v", err)
		}
	}
}

// Access token expires while the refresh token is still live: verification
// of the access token fails, refresh succeeds and the new access token
// verifies.
func TestExpiredAccessStillRefreshable(t *testing.T) {
	store := newMemTokenStore()
	svc := newTestTokenService(t, store, newMemUserStore(testUser()))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, testUser())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := svc.Verify(ctx, pair.AccessToken, models.TokenKindAccess)
	if err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}

	// Simulate the hour passing via stored expiry.
	store.setExpiry(claims.ID, time.Now().UTC().Add(-time.Minute))

	if _, err := svc.Verify(ctx, pair.AccessToken, models.TokenKindAccess); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("want ErrTokenInvalidated after expiry, got %v", err)
	}

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh with live refresh token: %v", err)
	}
	if _, err := svc.Verify(ctx, rotated.AccessToken, models.TokenKindAccess); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}
}
