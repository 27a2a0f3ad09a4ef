package auth

import "errors"

var (
	// ErrUnauthenticated covers every credential failure: missing or
	// malformed token, unknown kid, bad signature, wrong issuer or
	// audience, expired claims. Callers must not be able to tell these
	// apart.
	ErrUnauthenticated = errors.New("auth: unauthenticated")

	// ErrForbidden means the identity is valid but lacks permission.
	ErrForbidden = errors.New("auth: forbidden")

	// ErrNotFound is returned by stores for unknown or expired ids.
	ErrNotFound = errors.New("auth: not found")

	// ErrNoSigningKey means no active signing key exists. Key creation is
	// an explicit operation; the server refuses to mint tokens until an
	// operator rotates one in.
	ErrNoSigningKey = errors.New("auth: no active signing key")
)
