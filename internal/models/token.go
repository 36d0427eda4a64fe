package models

import "time"

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenRecord is the durable row backing one issued token. A token is valid
// iff the record exists, Revoked is false and ExpiresAt is in the future.
type TokenRecord struct {
	JTI        string
	UserID     string
	Kind       TokenKind
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
	IssuedAt   time.Time
	LastUsedAt time.Time
}

type KindStats struct {
	Total   int64 `json:"total"`
	Active  int64 `json:"active"`
	Revoked int64 `json:"revoked"`
	Expired int64 `json:"expired"`
}

type TokenStats struct {
	Access  KindStats `json:"access"`
	Refresh KindStats `json:"refresh"`
}
