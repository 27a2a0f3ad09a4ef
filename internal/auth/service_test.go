package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openreg.org/internal/query"
)

// memUserStore evaluates the compound login query against an in-memory
// account list, mirroring the SQL semantics.
type memUserStore struct {
	users      []User
	lastClause string
	passwords  map[string]string
}

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.users = append(s.users, *u)
	return nil
}

func (s *memUserStore) Query(_ context.Context, q query.Query) ([]User, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	s.lastClause = clause

	// The service always sends And(email equals, password set); evaluate
	// exactly that shape.
	if len(binds) != 1 {
		return nil, errors.New("unexpected bind count")
	}
	email, _ := binds[0].(string)
	var out []User
	for _, u := range s.users {
		if u.Email == email && u.PasswordHash != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users[i].PasswordHash = passwordHash
			return nil
		}
	}
	return ErrNotFound
}

func newTestAuthService(t *testing.T) (*Service, *memUserStore) {
	t.Helper()
	tokens, _ := newTestTokenService(t, fixedClock(testEpoch))
	users := &memUserStore{}
	svc, err := NewService(users, tokens)
	if err != nil {
		t.Fatal(err)
	}
	return svc, users
}

func seedUser(t *testing.T, users *memUserStore, id, email, password string) {
	t.Helper()
	hash := ""
	if password != "" {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			t.Fatal(err)
		}
	}
	users.users = append(users.users, User{ID: id, Email: email, PasswordHash: hash})
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)
	seedUser(t, users, "user-1", "admin@example.com", "Sup3r-secret")

	token, claims, err := svc.Login(ctx, "Admin@Example.com ", "Sup3r-secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || claims.UserID() != "user-1" {
		t.Fatalf("token=%q subject=%q", token, claims.UserID())
	}
	if !strings.Contains(users.lastClause, "u.password_hash != ''") {
		t.Fatalf("login query did not filter on usable credentials: %q", users.lastClause)
	}
}

func TestLoginFailuresCollapse(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)
	seedUser(t, users, "user-1", "admin@example.com", "Sup3r-secret")
	seedUser(t, users, "user-2", "pending@example.com", "")

	cases := map[string][2]string{
		"unknown email":        {"ghost@example.com", "Sup3r-secret"},
		"wrong password":       {"admin@example.com", "wrong"},
		"credential not set":   {"pending@example.com", "anything"},
		"empty password":       {"admin@example.com", ""},
		"empty email":          {"", "Sup3r-secret"},
	}
	var messages []string
	for name, c := range cases {
		_, _, err := svc.Login(ctx, c[0], c[1])
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: err = %v, want ErrUnauthenticated", name, err)
		}
		messages = append(messages, err.Error())
	}
	for _, m := range messages[1:] {
		if m != messages[0] {
			t.Fatalf("failure modes leak: %q vs %q", m, messages[0])
		}
	}
}

func TestRefreshIssuesNewAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)
	seedUser(t, users, "user-1", "admin@example.com", "Sup3r-secret")

	refresh, _, err := svc.RefreshTokenFor(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	access, claims, err := svc.Refresh(ctx, refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access == "" || claims.UserID() != "user-1" {
		t.Fatalf("access=%q subject=%q", access, claims.UserID())
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)
	seedUser(t, users, "user-1", "admin@example.com", "Sup3r-secret")

	access, _, err := svc.Login(ctx, "admin@example.com", "Sup3r-secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Refresh(ctx, access); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated for access token at refresh boundary", err)
	}
}

func TestSetPasswordEnforcesPolicy(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestAuthService(t)
	seedUser(t, users, "user-1", "admin@example.com", "Sup3r-secret")

	if err := svc.SetPassword(ctx, "user-1", "weak"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("err = %v, want ErrWeakPassword", err)
	}
	if err := svc.SetPassword(ctx, "user-1", "N3w-secret"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "admin@example.com", "N3w-secret"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "admin@example.com", "Sup3r-secret"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password still accepted: %v", err)
	}
}
