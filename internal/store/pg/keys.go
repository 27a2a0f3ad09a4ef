package pg

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"openreg.org/internal/auth"
)

// KeyStore persists signing keys in the auth_keys table. Private keys are
// stored PEM-encoded (PKCS#8); public keys as PKIX. Rows are never mutated
// after insert except for the status flip on rotation.
type KeyStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewKeyStore(s *Store) *KeyStore {
	return &KeyStore{db: s.db, now: time.Now}
}

var _ auth.KeyStore = (*KeyStore)(nil)

func (s *KeyStore) RotateKeys(ctx context.Context, fresh auth.SigningKey, clearOld bool) error {
	privPEM, pubPEM, err := encodeKeyPair(fresh.Private, fresh.Public)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback()

	if clearOld {
		if _, err := tx.ExecContext(ctx, `delete from auth_keys`); err != nil {
			return fmt.Errorf("clear keys: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`update auth_keys set status = 'retired' where status = 'active'`,
		); err != nil {
			return fmt.Errorf("retire keys: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		insert into auth_keys (kid, private_pem, public_pem, created_at, expires_at, status)
		values ($1, $2, $3, $4, $5, 'active')
	`, fresh.Kid, privPEM, pubPEM, fresh.CreatedAt, fresh.ExpiresAt); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

func (s *KeyStore) ActiveKey(ctx context.Context) (auth.SigningKey, error) {
	row := s.db.QueryRowContext(ctx, `
		select kid, private_pem, public_pem, created_at, expires_at, status
		from auth_keys
		where status = 'active' and expires_at > $1
		order by created_at desc
		limit 1
	`, s.now())
	return scanKey(row)
}

func (s *KeyStore) VerifyingKey(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	var pubPEM string
	err := s.db.QueryRowContext(ctx, `
		select public_pem
		from auth_keys
		where kid = $1 and expires_at > $2
	`, kid, s.now()).Scan(&pubPEM)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load verifying key: %w", err)
	}
	return decodePublicKey(pubPEM)
}

func (s *KeyStore) HasKeys(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from auth_keys`).Scan(&n); err != nil {
		return false, fmt.Errorf("count keys: %w", err)
	}
	return n > 0, nil
}

func scanKey(row *sql.Row) (auth.SigningKey, error) {
	var (
		key             auth.SigningKey
		privPEM, pubPEM string
	)
	err := row.Scan(&key.Kid, &privPEM, &pubPEM, &key.CreatedAt, &key.ExpiresAt, &key.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SigningKey{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.SigningKey{}, fmt.Errorf("load signing key: %w", err)
	}
	if key.Private, err = decodePrivateKey(privPEM); err != nil {
		return auth.SigningKey{}, err
	}
	if key.Public, err = decodePublicKey(pubPEM); err != nil {
		return auth.SigningKey{}, err
	}
	return key, nil
}

func encodeKeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) (string, string, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", fmt.Errorf("encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("encode public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM), nil
}

func decodePrivateKey(pemText string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("malformed private key pem")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not ed25519")
	}
	return key, nil
}

func decodePublicKey(pemText string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("malformed public key pem")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ed25519")
	}
	return key, nil
}
