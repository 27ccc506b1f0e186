package auth

import "errors"

var (
	// ErrTokenInvalid indicates a token that failed signature or claim checks.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrNoSecret indicates token signing or verification without a secret.
	ErrNoSecret = errors.New("jwt secret is not configured")

	// ErrNoToken indicates a token store that holds no access token.
	ErrNoToken = errors.New("no access token stored")
)
