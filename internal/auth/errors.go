package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so that callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrUnauthorized is returned when a refresh secret is unknown,
	// expired, or revoked.
	ErrUnauthorized = errors.New("auth: unauthorized")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")

	// ErrTokenInactive marks a refresh record that exists but is revoked
	// or past its expiry.
	ErrTokenInactive = errors.New("auth: refresh token expired or revoked")

	// ErrSigningKey indicates a missing or unusable signing secret. It is
	// fatal misconfiguration, surfaced at construction time.
	ErrSigningKey = errors.New("auth: signing secret is not configured")

	ErrRateLimited = errors.New("auth: rate limited")
)
