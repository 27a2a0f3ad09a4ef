package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the fixed iss claim. Tokens carrying any other issuer are
// rejected.
const Issuer = "https://openreg.org"

// Audience marks the intended consumer of a token. Access tokens never
// pass validation where a refresh token is expected and vice versa.
type Audience string

const (
	AudienceAccess  Audience = "access"
	AudienceRefresh Audience = "refresh"
)

// Token lifetimes. The admin UI keeps sessions for a working day; refresh
// tokens let it renew without re-entering credentials. Both must stay
// below the key TTL so every token outlives its own validity window, not
// its signing key's.
const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims are the signed identity assertions embedded in a token.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the principal identifier carried in the subject claim.
func (c Claims) UserID() string { return c.Subject }

// TokenService issues and validates bearer tokens on top of the
// KeyManager. Validation performs no mutation; concurrent calls are
// independent.
type TokenService struct {
	keys       *KeyManager
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithIssuer overrides the issuer claim, for tests.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = strings.TrimSpace(issuer)
		}
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewTokenService constructs a TokenService over the key manager.
func NewTokenService(keys *KeyManager, opts ...TokenOption) (*TokenService, error) {
	if keys == nil {
		return nil, errors.New("auth: key manager is required")
	}
	s := &TokenService{
		keys:       keys,
		issuer:     Issuer,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TokenService) ttl(aud Audience) time.Duration {
	if aud == AudienceRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

// Issue signs a token for subject with the given audience using the
// current active key. The kid travels unsigned in the header so the
// validator can pick the verification key before checking the signature.
func (s *TokenService) Issue(ctx context.Context, subject string, aud Audience) (string, Claims, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", Claims{}, errors.New("auth: subject is required")
	}
	if aud != AudienceAccess && aud != AudienceRefresh {
		return "", Claims{}, fmt.Errorf("auth: unsupported audience %q", aud)
	}

	kid, key, err := s.keys.SigningKey(ctx)
	if err != nil {
		return "", Claims{}, err
	}

	now := s.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{string(aud)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl(aud))),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate verifies a token end to end: kid lookup, Ed25519 signature,
// issuer, audience, and the [iat, exp) validity window. Every failure is
// reported as ErrUnauthenticated; in particular an unknown kid and a
// tampered signature are indistinguishable to the caller. Only a store
// transport failure surfaces separately, as an internal error.
func (s *TokenService) Validate(ctx context.Context, token string, aud Audience) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrUnauthenticated
	}

	var storeErr error
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnauthenticated
		}
		key, err := s.keys.VerifyingKey(ctx, kid)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				storeErr = err
			}
			return nil, ErrUnauthenticated
		}
		return key, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(string(aud)),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if storeErr != nil {
		return Claims{}, fmt.Errorf("auth: resolve verifying key: %w", storeErr)
	}
	if err != nil || !parsed.Valid {
		return Claims{}, ErrUnauthenticated
	}
	if claims.IssuedAt == nil {
		return Claims{}, ErrUnauthenticated
	}
	return *claims, nil
}
