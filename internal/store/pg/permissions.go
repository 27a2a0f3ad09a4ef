package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"openreg.org/internal/authz"
	"openreg.org/internal/ids"
	"openreg.org/internal/query"
)

// PermissionStore persists role grants in the permissions table. The role
// discriminator and scope ids live in separate columns; organization and
// event are null for the variants that do not bind them.
type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(s *Store) *PermissionStore {
	return &PermissionStore{db: s.db}
}

var _ authz.Store = (*PermissionStore)(nil)

// permissionColumns splits a role into its persisted scope columns.
func permissionColumns(p authz.Permission) (role string, organization, event any) {
	role = p.Role.Tag()
	organization, event = nil, nil
	if p.Role.OrganizationScoped() {
		organization = p.Role.Resource()
	}
	if p.Role.EventScoped() {
		event = p.Role.Resource()
	}
	return role, organization, event
}

func scanPermission(rows *sql.Rows) (authz.Permission, error) {
	var (
		p                   authz.Permission
		tag                 string
		organization, event *string
	)
	if err := rows.Scan(&p.ID, &p.UserID, &tag, &organization, &event); err != nil {
		return authz.Permission{}, err
	}
	role, err := authz.RoleFromRow(tag, organization, event)
	if err != nil {
		return authz.Permission{}, err
	}
	p.Role = role
	return p, nil
}

// Upsert inserts grants without an id and updates the rest, in one
// transaction, after verifying every referenced user, organization, event
// and existing permission id. Results come back in input order.
func (s *PermissionStore) Upsert(ctx context.Context, perms []authz.Permission) ([]authz.Permission, error) {
	if len(perms) == 0 {
		return nil, nil
	}

	var userIDs, orgIDs, eventIDs, updateIDs []string
	for _, p := range perms {
		if err := p.Role.Validate(); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, p.UserID)
		if p.Role.OrganizationScoped() {
			orgIDs = append(orgIDs, p.Role.Resource())
		}
		if p.Role.EventScoped() {
			eventIDs = append(eventIDs, p.Role.Resource())
		}
		if p.ID != "" {
			updateIDs = append(updateIDs, p.ID)
		}
	}
	if err := idsInTable(ctx, s.db, "users", userIDs); err != nil {
		return nil, err
	}
	if err := idsInTable(ctx, s.db, "organizations", orgIDs); err != nil {
		return nil, err
	}
	if err := idsInTable(ctx, s.db, "events", eventIDs); err != nil {
		return nil, err
	}
	if err := idsInTable(ctx, s.db, "permissions", updateIDs); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	out := make([]authz.Permission, len(perms))
	var inserts, updates []authz.Permission
	for i, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
			inserts = append(inserts, p)
		} else {
			updates = append(updates, p)
		}
		out[i] = p
	}

	if len(inserts) > 0 {
		values := make([]string, 0, len(inserts))
		binds := make([]any, 0, 5*len(inserts))
		for i, p := range inserts {
			n := 5 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5))
			role, organization, event := permissionColumns(p)
			binds = append(binds, p.ID, p.UserID, role, organization, event)
		}
		stmt := fmt.Sprintf(`
			insert into permissions (id, user_id, role, organization, event)
			values %s
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("insert permissions: %w", err)
		}
	}

	if len(updates) > 0 {
		values := make([]string, 0, len(updates))
		binds := make([]any, 0, 5*len(updates))
		for i, p := range updates {
			n := 5 * i
			values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
				n+1, n+2, n+3, n+4, n+5))
			role, organization, event := permissionColumns(p)
			binds = append(binds, p.ID, p.UserID, role, organization, event)
		}
		stmt := fmt.Sprintf(`
			with incoming(id, user_id, role, organization, event) as (values %s)
			update permissions
			set user_id = incoming.user_id,
			    role = incoming.role,
			    organization = incoming.organization,
			    event = incoming.event
			from incoming
			where permissions.id = incoming.id
		`, strings.Join(values, ","))
		if _, err := tx.ExecContext(ctx, stmt, binds...); err != nil {
			return nil, fmt.Errorf("update permissions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return out, nil
}

func (s *PermissionStore) Query(ctx context.Context, q query.Query) ([]authz.Permission, error) {
	clause, binds, err := query.Render(q)
	if err != nil {
		return nil, err
	}
	stmt := `select p.id, p.user_id, p.role, p.organization, p.event from permissions p`
	if clause != "" {
		stmt += " where " + query.Rebind(clause)
	}

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var perms []authz.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *PermissionStore) Delete(ctx context.Context, permIDs []string) error {
	if len(permIDs) == 0 {
		return nil
	}
	if err := idsInTable(ctx, s.db, "permissions", permIDs); err != nil {
		return err
	}
	stmt, binds := deleteByID("permissions", permIDs)
	if _, err := s.db.ExecContext(ctx, stmt, binds...); err != nil {
		return fmt.Errorf("delete permissions: %w", err)
	}
	return nil
}

// Check returns the requested grants the user does NOT hold. Satisfaction
// is hierarchical: SERVER_ADMIN covers everything, admin covers editor
// covers viewer within a scope, and an organization role covers every
// event of that organization (the events join). An empty result means the
// whole request is authorized.
func (s *PermissionStore) Check(ctx context.Context, requested []authz.Permission) ([]authz.Permission, error) {
	if len(requested) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(requested))
	binds := make([]any, 0, 4*len(requested))
	for i, p := range requested {
		if err := p.Role.Validate(); err != nil {
			return nil, err
		}
		n := 4 * i
		values = append(values, fmt.Sprintf("('', $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		role, organization, event := permissionColumns(p)
		binds = append(binds, p.UserID, role, organization, event)
	}

	stmt := fmt.Sprintf(`
		with requested(id, user_id, role, organization, event) as (values %s)
		select id, user_id, role, organization, event from requested where not exists (
			select 1 from permissions p
			left join events e on p.organization = e.organization
			where p.user_id = requested.user_id and (
				(requested.role = 'SERVER_ADMIN' and p.role = 'SERVER_ADMIN')
				or (requested.role = 'ORGANIZATION_ADMIN' and (
					p.role = 'SERVER_ADMIN'
					or (p.role = 'ORGANIZATION_ADMIN' and p.organization = requested.organization)
				))
				or (requested.role = 'ORGANIZATION_VIEWER' and (
					p.role = 'SERVER_ADMIN'
					or ((p.role = 'ORGANIZATION_ADMIN' or p.role = 'ORGANIZATION_VIEWER') and p.organization = requested.organization)
				))
				or (requested.role = 'EVENT_ADMIN' and (
					p.role = 'SERVER_ADMIN'
					or (p.role = 'EVENT_ADMIN' and p.event = requested.event)
					or (p.role = 'ORGANIZATION_ADMIN' and e.id = requested.event)
				))
				or (requested.role = 'EVENT_EDITOR' and (
					p.role = 'SERVER_ADMIN'
					or ((p.role = 'EVENT_ADMIN' or p.role = 'EVENT_EDITOR') and p.event = requested.event)
					or (p.role = 'ORGANIZATION_ADMIN' and e.id = requested.event)
				))
				or (requested.role = 'EVENT_VIEWER' and (
					p.role = 'SERVER_ADMIN'
					or ((p.role = 'EVENT_ADMIN' or p.role = 'EVENT_EDITOR' or p.role = 'EVENT_VIEWER') and p.event = requested.event)
					or ((p.role = 'ORGANIZATION_ADMIN' or p.role = 'ORGANIZATION_VIEWER') and e.id = requested.event)
				))
			)
		)
	`, strings.Join(values, ","))

	rows, err := s.db.QueryContext(ctx, stmt, binds...)
	if err != nil {
		return nil, fmt.Errorf("check permissions: %w", err)
	}
	defer rows.Close()

	var failed []authz.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		failed = append(failed, p)
	}
	return failed, rows.Err()
}
