package auth

import "errors"

// Sentinel errors for token handling.
var (
	ErrTokenInvalid   = errors.New("auth: invalid token")
	ErrMissingSecret  = errors.New("auth: signing secret is empty")
	ErrUnknownRole    = errors.New("auth: unknown role")
	ErrForbidden      = errors.New("auth: insufficient permissions")
	ErrIdentityDenied = errors.New("auth: identity not allowed for token")
)
