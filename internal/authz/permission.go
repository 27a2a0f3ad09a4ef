package authz

import (
	"context"

	"openreg.org/internal/query"
)

// Permission grants one role to one user. Created and deleted by
// administrators, queried to authorize actions.
type Permission struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Filterable permission fields.
const (
	FieldID     query.Field = "p.id"
	FieldUserID query.Field = "p.user_id"
)

// WireFields maps request-level field names onto the closed set.
var WireFields = map[string]query.Field{
	"id":      FieldID,
	"user_id": FieldUserID,
}

// Store persists permissions. Check answers, for each requested grant,
// whether the user's existing permissions satisfy it; it returns the
// requests that failed. The query includes organization inheritance:
// an organization role covers every event of that organization.
type Store interface {
	Upsert(ctx context.Context, perms []Permission) ([]Permission, error)
	Query(ctx context.Context, q query.Query) ([]Permission, error)
	Delete(ctx context.Context, ids []string) error
	Check(ctx context.Context, requested []Permission) ([]Permission, error)
}
