package auth

import "errors"

var (
	// ErrInvalidToken covers every token that fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUnauthorized means no member identity is attached to the request.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrMissingSecret is returned by NewTokens for a blank secret.
	ErrMissingSecret = errors.New("auth: secret is not configured")
)
