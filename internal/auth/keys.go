package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"openreg.org/internal/ids"
)

// Key status values as persisted. An active key signs new tokens and
// verifies old ones; a retired key only verifies. Expired keys are treated
// as absent by the store queries and become eligible for deletion.
const (
	KeyStatusActive  = "active"
	KeyStatusRetired = "retired"
)

// SigningKey is the persisted Ed25519 key pair with its lifecycle data.
type SigningKey struct {
	Kid       string
	Private   ed25519.PrivateKey
	Public    ed25519.PublicKey
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    string
}

// KeyStore persists signing keys. RotateKeys must apply as a single
// transaction: concurrent ActiveKey callers see either the old key set or
// the new one, never an intermediate state.
type KeyStore interface {
	// RotateKeys retires (or deletes, when clearOld is set) all active
	// keys and inserts fresh as the new active key, atomically.
	RotateKeys(ctx context.Context, fresh SigningKey, clearOld bool) error

	// ActiveKey returns the single active, non-expired key.
	// Returns ErrNotFound when none exists.
	ActiveKey(ctx context.Context) (SigningKey, error)

	// VerifyingKey returns the public key for kid, regardless of status,
	// as long as the key has not expired. Unknown and expired ids are both
	// ErrNotFound; callers must not distinguish them.
	VerifyingKey(ctx context.Context, kid string) (ed25519.PublicKey, error)

	// HasKeys reports whether any non-expired key exists.
	HasKeys(ctx context.Context) (bool, error)
}

const defaultKeyTTL = 365 * 24 * time.Hour

// KeyManager owns the signing key set and its rotation policy. Verification
// always re-fetches by kid so a revoked (deleted) key is rejected
// immediately; the active signing key may be cached for a bounded period.
type KeyManager struct {
	store    KeyStore
	keyTTL   time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	active   *SigningKey
	cachedAt time.Time
}

// KeyManagerOption configures a KeyManager.
type KeyManagerOption func(*KeyManager)

// WithKeyTTL sets how long a newly generated key remains verifiable. It
// must exceed the longest token TTL issued under the key, otherwise a
// retired key could expire while tokens it signed are still live.
func WithKeyTTL(ttl time.Duration) KeyManagerOption {
	return func(m *KeyManager) {
		if ttl > 0 {
			m.keyTTL = ttl
		}
	}
}

// WithSigningKeyCache enables caching of the active signing key for up to
// d. The cache never outlives the key's own expiry. Verification keys are
// never cached.
func WithSigningKeyCache(d time.Duration) KeyManagerOption {
	return func(m *KeyManager) {
		if d > 0 {
			m.cacheTTL = d
		}
	}
}

// WithKeyClock overrides the time source, for tests.
func WithKeyClock(fn func() time.Time) KeyManagerOption {
	return func(m *KeyManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewKeyManager constructs a KeyManager over the given store.
func NewKeyManager(store KeyStore, opts ...KeyManagerOption) (*KeyManager, error) {
	if store == nil {
		return nil, errors.New("auth: key store is required")
	}
	m := &KeyManager{
		store:  store,
		keyTTL: defaultKeyTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SigningKey returns the active key for new signatures. It fails with
// ErrNoSigningKey when no key has been rotated in; it never generates one
// implicitly, so key creation stays an explicit, auditable act.
func (m *KeyManager) SigningKey(ctx context.Context) (string, ed25519.PrivateKey, error) {
	now := m.now()

	m.mu.Lock()
	if m.cacheTTL > 0 && m.active != nil &&
		now.Sub(m.cachedAt) < m.cacheTTL && now.Before(m.active.ExpiresAt) {
		kid, priv := m.active.Kid, m.active.Private
		m.mu.Unlock()
		return kid, priv, nil
	}
	m.mu.Unlock()

	key, err := m.store.ActiveKey(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrNoSigningKey
		}
		return "", nil, fmt.Errorf("auth: fetch active key: %w", err)
	}

	if m.cacheTTL > 0 {
		m.mu.Lock()
		k := key
		m.active = &k
		m.cachedAt = now
		m.mu.Unlock()
	}
	return key.Kid, key.Private, nil
}

// VerifyingKey resolves a token's kid to a public key. Unknown and expired
// kids are both ErrNotFound; the token layer collapses either into
// ErrUnauthenticated so the distinction never crosses the trust boundary.
func (m *KeyManager) VerifyingKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	if kid == "" {
		return nil, ErrNotFound
	}
	return m.store.VerifyingKey(ctx, kid)
}

// Rotate generates a fresh key and installs it as the only active key in
// one store transaction. With clearOld, prior keys are deleted outright,
// which invalidates every outstanding token they signed (hard rotation);
// otherwise they are retired and keep verifying until their own expiry.
// Returns the new kid.
func (m *KeyManager) Rotate(ctx context.Context, clearOld bool) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	now := m.now().UTC()
	fresh := SigningKey{
		Kid:       ids.New(),
		Private:   priv,
		Public:    pub,
		CreatedAt: now,
		ExpiresAt: now.Add(m.keyTTL),
		Status:    KeyStatusActive,
	}
	if err := m.store.RotateKeys(ctx, fresh, clearOld); err != nil {
		return "", fmt.Errorf("auth: rotate keys: %w", err)
	}

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()

	return fresh.Kid, nil
}

// HasKeys reports whether any usable key exists, for startup checks.
func (m *KeyManager) HasKeys(ctx context.Context) (bool, error) {
	return m.store.HasKeys(ctx)
}
