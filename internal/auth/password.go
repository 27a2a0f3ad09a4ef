package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashPassword derives an argon2id hash in the standard encoded form.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is empty")
	}
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext against a stored encoded hash. Any
// failure, including a malformed stored hash, reports ErrUnauthenticated:
// the caller must not be able to tell "bad password" from "no usable
// credential".
func VerifyPassword(encoded, password string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return ErrUnauthenticated
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return ErrUnauthenticated
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return ErrUnauthenticated
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return ErrUnauthenticated
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

const minPasswordLength = 8

// PasswordPolicy records which strength requirements a candidate password
// meets. Applied when an administrator creates a user or a user changes
// their own password; never during login.
type PasswordPolicy struct {
	HasUppercase bool
	HasLowercase bool
	HasNumber    bool
	HasSpecial   bool
	IsLongEnough bool
}

// CheckPassword evaluates the strength requirements for password.
func CheckPassword(password string) PasswordPolicy {
	var p PasswordPolicy
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			p.HasUppercase = true
		case unicode.IsLower(c):
			p.HasLowercase = true
		case unicode.IsNumber(c):
			p.HasNumber = true
		default:
			p.HasSpecial = true
		}
		if p.HasUppercase && p.HasLowercase && p.HasNumber && p.HasSpecial {
			break
		}
	}
	p.IsLongEnough = len(password) >= minPasswordLength
	return p
}

// Valid reports whether every requirement is met.
func (p PasswordPolicy) Valid() bool {
	return p.HasUppercase && p.HasLowercase && p.HasNumber && p.HasSpecial && p.IsLongEnough
}
