package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"openreg.org/internal/query"
)

// Service implements the credential flows: login and password change.
// It deliberately collapses "no such account" and "wrong password" into
// one ErrUnauthenticated so login cannot be used to probe for emails.
type Service struct {
	users  UserStore
	tokens *TokenService
}

// NewService constructs the authentication service.
func NewService(users UserStore, tokens *TokenService) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	return &Service{users: users, tokens: tokens}, nil
}

// Login authenticates the credentials and issues an access token. The
// account lookup and the has-credential check run as one compound query.
func (s *Service) Login(ctx context.Context, email, password string) (string, Claims, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", Claims{}, ErrUnauthenticated
	}

	users, err := s.users.Query(ctx, query.Compound{
		Op: query.And,
		Queries: []query.Query{
			query.Logical{Field: UserFieldEmail, Op: query.Equals, Value: email},
			UserPasswordSet{},
		},
	})
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: query user: %w", err)
	}
	if len(users) == 0 {
		return "", Claims{}, ErrUnauthenticated
	}
	user := users[0]

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", Claims{}, ErrUnauthenticated
	}

	return s.issueFor(ctx, user.ID)
}

func (s *Service) issueFor(ctx context.Context, userID string) (string, Claims, error) {
	token, claims, err := s.tokens.Issue(ctx, userID, AudienceAccess)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// RefreshTokenFor issues a refresh token for an already-authenticated
// principal, alongside the access token from Login.
func (s *Service) RefreshTokenFor(ctx context.Context, userID string) (string, Claims, error) {
	return s.tokens.Issue(ctx, userID, AudienceRefresh)
}

// Refresh validates a refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, Claims, error) {
	claims, err := s.tokens.Validate(ctx, refreshToken, AudienceRefresh)
	if err != nil {
		return "", Claims{}, err
	}
	return s.issueFor(ctx, claims.Subject)
}

// SetPassword enforces the strength policy and stores a new hash for the
// user. Policy violations are caller-caused and safe to disclose.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("auth: user id is required")
	}
	if policy := CheckPassword(password); !policy.Valid() {
		return fmt.Errorf("auth: password does not meet requirements: %w", ErrWeakPassword)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// ErrWeakPassword marks a password rejected by the strength policy.
var ErrWeakPassword = errors.New("auth: weak password")
