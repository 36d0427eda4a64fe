package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tallybook/api/internal/models"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec("unit-test-secret", "HS512")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec("", "HS512"); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewCodec("secret", "RS256"); err == nil {
		t.Fatal("non-HMAC algorithm accepted")
	}
	for _, alg := range []string{"HS256", "HS384", "HS512", ""} {
		if _, err := NewCodec("secret", alg); err != nil {
			t.Fatalf("NewCodec(%q): %v", alg, err)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	token, jti, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if jti == "" {
		t.Fatal("empty jti")
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "user@example.com" || claims.ID != jti {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != "" || claims.IsRefresh() {
		t.Fatal("access token carries a token_type discriminator")
	}
	if !claims.ExpiresAt.After(time.Now()) {
		t.Fatalf("expiry not in the future: %v", claims.ExpiresAt)
	}
}

func TestRefreshDiscriminator(t *testing.T) {
	codec := newTestCodec(t)

	token, _, err := codec.Encode("u1", "user@example.com", models.TokenKindRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !claims.IsRefresh() || claims.Kind() != models.TokenKindRefresh {
		t.Fatalf("refresh discriminator missing: %+v", claims)
	}
}

func TestEachEncodeMintsFreshJTI(t *testing.T) {
	codec := newTestCodec(t)

	_, first, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, second, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if first == second {
		t.Fatal("jti reused across tokens")
	}
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	codec := newTestCodec(t)

	token, _, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	if _, err := codec.Decode(tampered); !errors.Is(err, ErrBadToken) {
		t.Fatalf("want ErrBadToken, got %v", err)
	}
}

func TestDecodeRejectsForeignSignature(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewCodec("a-different-secret", "HS512")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	token, _, err := other.Encode("u1", "user@example.com", models.TokenKindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrBadToken) {
		t.Fatalf("want ErrBadToken, got %v", err)
	}
}

func TestDecodeExpired(t *testing.T) {
	codec := newTestCodec(t)

	token, _, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, -time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := codec.Decode(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestDecodeUnverifiedExtractsJTIFromExpiredToken(t *testing.T) {
	codec := newTestCodec(t)

	token, jti, err := codec.Encode("u1", "user@example.com", models.TokenKindAccess, -time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	claims, err := codec.DecodeUnverified(token)
	if err != nil {
		t.Fatalf("DecodeUnverified: %v", err)
	}
	if claims.ID != jti {
		t.Fatalf("jti = %q, want %q", claims.ID, jti)
	}

	if _, err := codec.DecodeUnverified("garbage"); !errors.Is(err, ErrBadToken) {
		t.Fatalf("want ErrBadToken for garbage, got %v", err)
	}
}
