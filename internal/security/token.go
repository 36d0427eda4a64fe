package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tallybook/api/internal/models"
)

var (
	ErrBadToken     = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const refreshTokenType = "refresh"

// Claims is the signed payload of every issued token. Access tokens omit
// TokenType; refresh tokens carry TokenType == "refresh".
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.TokenType == refreshTokenType
}

// Kind maps the discriminator claim back to the token kind.
func (c *Claims) Kind() models.TokenKind {
	if c.IsRefresh() {
		return models.TokenKindRefresh
	}
	return models.TokenKindAccess
}

// Codec signs and verifies bearer tokens with a shared HMAC secret.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
}

func NewCodec(secret string, algorithm string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}

	var method *jwt.SigningMethodHMAC
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "", "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}

	return &Codec{secret: []byte(secret), method: method}, nil
}

// Encode signs a fresh token for the user and returns the token string
// together with the jti minted for it.
func (c *Codec) Encode(userID string, email string, kind models.TokenKind, ttl time.Duration) (string, string, error) {
	now := time.Now().UTC()
	jti := uuid.NewString()

	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	if kind == models.TokenKindRefresh {
		claims.TokenType = refreshTokenType
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, jti, nil
}

// Decode fully verifies the token signature and temporal claims.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrBadToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrBadToken
	}
	return claims, nil
}

// DecodeUnverified parses the payload WITHOUT checking the signature or
// expiry. It exists solely for jti extraction from tokens at end of life
// (logout of a near-expired token); never use it in place of Decode.
func (c *Codec) DecodeUnverified(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return nil, ErrBadToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrBadToken
	}
	return claims, nil
}
