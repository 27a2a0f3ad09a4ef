package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"openreg.org/internal/auth"
	"openreg.org/internal/ids"
	"openreg.org/internal/query"
)

// UserStore persists accounts in the users table.
type UserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserStore(s *Store) *UserStore {
	return &UserStore{db: s.db, now: time.Now}
}

var _ auth.UserStore = (*UserStore)(nil)

func (s *UserStore) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	if _, err := s.db.ExecContext(ctx, `
		insert into users (id, email, display_name, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt, u.UpdatedAt); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *UserStore) Query(ctx context.Context, q query.Query) ([]auth.User, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	stmt := `select u.id, u.email, u.display_name, u.password_hash, u.created_at, u.updated_at from users u`
	if clause != "" {
		stmt += " where " + query.Rebind(clause)
	}

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $1, updated_at = $2 where id = $3
	`, passwordHash, s.now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
