package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"openreg.org/internal/ids"
	"openreg.org/internal/query"
	"openreg.org/internal/registry"
)

// OrganizationStore persists organizations.
type OrganizationStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewOrganizationStore(s *Store) *OrganizationStore {
	return &OrganizationStore{db: s.db, now: time.Now}
}

var _ registry.OrganizationStore = (*OrganizationStore)(nil)

func (s *OrganizationStore) Create(ctx context.Context, org *registry.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := s.now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now

	if _, err := s.db.ExecContext(ctx, `
		insert into organizations (id, name, created_at, updated_at)
		values ($1, $2, $3, $4)
	`, org.ID, org.Name, org.CreatedAt, org.UpdatedAt); err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *OrganizationStore) Query(ctx context.Context, q query.Query) ([]registry.Organization, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	stmt := `select o.id, o.name, o.created_at, o.updated_at from organizations o`
	if clause != "" {
		stmt += " where " + query.Rebind(clause)
	}

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("query organizations: %w", err)
	}
	defer rows.Close()

	var orgs []registry.Organization
	for rows.Next() {
		var o registry.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (s *OrganizationStore) Delete(ctx context.Context, orgIDs []string) error {
	if len(orgIDs) == 0 {
		return nil
	}
	if err := idsInTable(ctx, s.db, "organizations", orgIDs); err != nil {
		return err
	}
	stmt, binds := deleteByID("organizations", orgIDs)
	if _, err := s.db.ExecContext(ctx, stmt, binds...); err != nil {
		return fmt.Errorf("delete organizations: %w", err)
	}
	return nil
}

// deleteByID builds a delete statement matching each id explicitly.
func deleteByID(table string, deleteIDs []string) (string, []any) {
	preds := make([]string, 0, len(deleteIDs))
	binds := make([]any, 0, len(deleteIDs))
	for i, id := range deleteIDs {
		preds = append(preds, fmt.Sprintf("id = $%d", i+1))
		binds = append(binds, id)
	}
	return fmt.Sprintf("delete from %s where %s", table, strings.Join(preds, " or ")), binds
}
