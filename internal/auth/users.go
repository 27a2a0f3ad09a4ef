package auth

import (
	"context"
	"strings"
	"time"

	"openreg.org/internal/query"
)

// User is an account that can sign in. PasswordHash is empty for accounts
// that have not finished registration; such accounts cannot authenticate.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Filterable user fields. The set is closed: request input selects from
// these names, it never contributes column text.
const (
	UserFieldID    query.Field = "u.id"
	UserFieldEmail query.Field = "u.email"
)

// UserWireFields maps request-level field names onto the closed set.
var UserWireFields = map[string]query.Field{
	"id":    UserFieldID,
	"email": UserFieldEmail,
}

// UserPasswordSet is a leaf predicate selecting accounts with a usable
// credential. It binds no values; the clause is a fixed literal.
type UserPasswordSet struct{}

func (UserPasswordSet) WriteClause(sb *strings.Builder) {
	sb.WriteString("u.password_hash != ''")
}

func (UserPasswordSet) AppendBinds(binds []any) []any { return binds }

func (UserPasswordSet) Validate(string) error { return nil }

// UserStore persists accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Query(ctx context.Context, q query.Query) ([]User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
