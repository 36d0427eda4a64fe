package service

import "errors"

// Error taxonomy for the auth core. Handlers map these to transport
// responses; token failures all surface as one generic message so callers
// cannot distinguish revoked from expired from forged.
var (
	ErrMalformedToken     = errors.New("malformed token")
	ErrTokenInvalidated   = errors.New("token invalidated")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrUnauthorized       = errors.New("insufficient permissions")
)
