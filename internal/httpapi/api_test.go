package httpapi

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"openreg.org/internal/auth"
	"openreg.org/internal/authz"
	"openreg.org/internal/query"
	"openreg.org/internal/registry"
)

// --- in-memory fakes ---

type fakeKeyStore struct {
	mu   sync.Mutex
	keys []auth.SigningKey
}

func (s *fakeKeyStore) RotateKeys(_ context.Context, fresh auth.SigningKey, clearOld bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clearOld {
		s.keys = nil
	} else {
		for i := range s.keys {
			s.keys[i].Status = auth.KeyStatusRetired
		}
	}
	s.keys = append(s.keys, fresh)
	return nil
}

func (s *fakeKeyStore) ActiveKey(context.Context) (auth.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.keys) - 1; i >= 0; i-- {
		if s.keys[i].Status == auth.KeyStatusActive {
			return s.keys[i], nil
		}
	}
	return auth.SigningKey{}, auth.ErrNotFound
}

func (s *fakeKeyStore) VerifyingKey(_ context.Context, kid string) (ed25519.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Kid == kid {
			return k.Public, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeKeyStore) HasKeys(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys) > 0, nil
}

type fakeUserStore struct {
	users []auth.User
}

func (s *fakeUserStore) Create(_ context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = "user-" + u.Email
	}
	s.users = append(s.users, *u)
	return nil
}

func (s *fakeUserStore) Query(_ context.Context, q query.Query) ([]auth.User, error) {
	_, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	var out []auth.User
	for _, u := range s.users {
		for _, b := range binds {
			if u.Email == b && u.PasswordHash != "" {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID, hash string) error {
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users[i].PasswordHash = hash
			return nil
		}
	}
	return auth.ErrNotFound
}

// fakePermStore answers Check from an explicit allow list keyed by
// user|tag|resource.
type fakePermStore struct {
	allowed map[string]bool
	perms   []authz.Permission
}

func permKey(p authz.Permission) string {
	return p.UserID + "|" + p.Role.Tag() + "|" + p.Role.Resource()
}

func (s *fakePermStore) allow(p authz.Permission) {
	if s.allowed == nil {
		s.allowed = make(map[string]bool)
	}
	s.allowed[permKey(p)] = true
}

func (s *fakePermStore) Upsert(_ context.Context, perms []authz.Permission) ([]authz.Permission, error) {
	out := make([]authz.Permission, len(perms))
	for i, p := range perms {
		if p.ID == "" {
			p.ID = "perm-" + permKey(p)
		}
		s.perms = append(s.perms, p)
		out[i] = p
	}
	return out, nil
}

func (s *fakePermStore) Query(_ context.Context, q query.Query) ([]authz.Permission, error) {
	if _, _, err := query.Render(q); err != nil {
		return nil, err
	}
	return s.perms, nil
}

func (s *fakePermStore) Delete(_ context.Context, ids []string) error {
	keep := s.perms[:0]
	for _, p := range s.perms {
		drop := false
		for _, id := range ids {
			if p.ID == id {
				drop = true
			}
		}
		if !drop {
			keep = append(keep, p)
		}
	}
	s.perms = keep
	return nil
}

func (s *fakePermStore) Check(_ context.Context, requested []authz.Permission) ([]authz.Permission, error) {
	var failed []authz.Permission
	for _, p := range requested {
		if !s.allowed[permKey(p)] {
			failed = append(failed, p)
		}
	}
	return failed, nil
}

type fakeOrgStore struct {
	orgs []registry.Organization
}

func (s *fakeOrgStore) Create(_ context.Context, org *registry.Organization) error {
	if org.ID == "" {
		org.ID = "org-" + org.Name
	}
	s.orgs = append(s.orgs, *org)
	return nil
}

func (s *fakeOrgStore) Query(_ context.Context, q query.Query) ([]registry.Organization, error) {
	if _, _, err := query.Render(q); err != nil {
		return nil, err
	}
	return s.orgs, nil
}

func (s *fakeOrgStore) Delete(_ context.Context, ids []string) error {
	keep := s.orgs[:0]
	for _, o := range s.orgs {
		drop := false
		for _, id := range ids {
			if o.ID == id {
				drop = true
			}
		}
		if !drop {
			keep = append(keep, o)
		}
	}
	s.orgs = keep
	return nil
}

type fakeEventStore struct {
	events []registry.Event
}

func (s *fakeEventStore) Upsert(_ context.Context, events []registry.Event) ([]registry.Event, error) {
	out := make([]registry.Event, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = "ev-" + e.Name
		}
		s.events = append(s.events, e)
		out[i] = e
	}
	return out, nil
}

func (s *fakeEventStore) Query(_ context.Context, q query.Query) ([]registry.Event, error) {
	if _, _, err := query.Render(q); err != nil {
		return nil, err
	}
	return s.events, nil
}

func (s *fakeEventStore) Delete(context.Context, []string) error { return nil }

type fakeRegStore struct {
	regs []registry.Registration
}

func (s *fakeRegStore) Upsert(_ context.Context, regs []registry.Registration) ([]registry.Registration, error) {
	out := make([]registry.Registration, len(regs))
	for i, reg := range regs {
		if reg.ID == "" {
			reg.ID = "reg-" + reg.EventID
		}
		s.regs = append(s.regs, reg)
		out[i] = reg
	}
	return out, nil
}

func (s *fakeRegStore) Query(_ context.Context, q query.Query) ([]registry.Registration, error) {
	_, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	if len(binds) == 0 {
		return s.regs, nil
	}
	var out []registry.Registration
	for _, reg := range s.regs {
		for _, b := range binds {
			if reg.ID == b || reg.EventID == b {
				out = append(out, reg)
			}
		}
	}
	return out, nil
}

func (s *fakeRegStore) Delete(_ context.Context, ids []string) error {
	keep := s.regs[:0]
	for _, reg := range s.regs {
		drop := false
		for _, id := range ids {
			if reg.ID == id {
				drop = true
			}
		}
		if !drop {
			keep = append(keep, reg)
		}
	}
	s.regs = keep
	return nil
}

// --- test harness ---

type testEnv struct {
	api    *API
	keys   *auth.KeyManager
	tokens *auth.TokenService
	users  *fakeUserStore
	perms  *fakePermStore
	orgs   *fakeOrgStore
	events *fakeEventStore
	regs   *fakeRegStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	keys, err := auth.NewKeyManager(&fakeKeyStore{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keys.Rotate(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	tokens, err := auth.NewTokenService(keys)
	if err != nil {
		t.Fatal(err)
	}

	users := &fakeUserStore{}
	svc, err := auth.NewService(users, tokens)
	if err != nil {
		t.Fatal(err)
	}

	perms := &fakePermStore{}
	orgs := &fakeOrgStore{}
	events := &fakeEventStore{}
	regs := &fakeRegStore{}

	api := New(Deps{
		Auth:          svc,
		Tokens:        tokens,
		Keys:          keys,
		Users:         users,
		Perms:         perms,
		Orgs:          orgs,
		Events:        events,
		Registrations: regs,
	}, "test")

	return &testEnv{
		api:    api,
		keys:   keys,
		tokens: tokens,
		users:  users,
		perms:  perms,
		orgs:   orgs,
		events: events,
		regs:   regs,
	}
}

// seedUser registers an account with a known password hash.
func (e *testEnv) seedUser(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	e.users.users = append(e.users.users, auth.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	})
}

// tokenFor mints a valid access token for user id.
func (e *testEnv) tokenFor(t *testing.T, id string) string {
	t.Helper()
	token, _, err := e.tokens.Issue(context.Background(), id, auth.AudienceAccess)
	if err != nil {
		t.Fatal(err)
	}
	return token
}
