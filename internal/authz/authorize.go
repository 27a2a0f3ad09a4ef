package authz

import (
	"strings"

	"openreg.org/internal/query"
)

// RolePredicate is a query leaf matching a permission row that grants one
// role. The role tag is embedded as a trusted literal from the closed set;
// the resource id is bound as a parameter.
type RolePredicate struct {
	Role   Role
	Negate bool
}

// RoleIs matches rows granting exactly role.
func RoleIs(role Role) RolePredicate { return RolePredicate{Role: role} }

// RoleIsNot matches rows granting anything but role.
func RoleIsNot(role Role) RolePredicate { return RolePredicate{Role: role, Negate: true} }

func (p RolePredicate) WriteClause(sb *strings.Builder) {
	cmp, join := "=", " AND "
	if p.Negate {
		cmp, join = "!=", " OR "
	}
	sb.WriteString("p.role ")
	sb.WriteString(cmp)
	sb.WriteString(" '")
	sb.WriteString(p.Role.Tag())
	sb.WriteByte('\'')
	switch {
	case p.Role.OrganizationScoped():
		sb.WriteString(join)
		sb.WriteString("p.organization ")
		sb.WriteString(cmp)
		sb.WriteString(" ?")
	case p.Role.EventScoped():
		sb.WriteString(join)
		sb.WriteString("p.event ")
		sb.WriteString(cmp)
		sb.WriteString(" ?")
	}
}

func (p RolePredicate) AppendBinds(binds []any) []any {
	if p.Role.Kind() == RoleServerAdmin {
		return binds
	}
	return append(binds, p.Role.Resource())
}

func (p RolePredicate) Validate(string) error { return p.Role.Validate() }

// Satisfying lists the role variants whose direct grant satisfies the
// required capability: admins imply editors imply viewers within a scope,
// and ServerAdmin satisfies everything. Organization roles additionally
// cover events of the organization, but that needs a join and lives in
// Store.Check rather than in this pure expansion.
func Satisfying(required Role) []Role {
	switch required.Kind() {
	case RoleServerAdmin:
		return []Role{ServerAdmin()}
	case RoleOrganizationAdmin:
		return []Role{ServerAdmin(), OrganizationAdmin(required.Resource())}
	case RoleOrganizationViewer:
		return []Role{
			ServerAdmin(),
			OrganizationAdmin(required.Resource()),
			OrganizationViewer(required.Resource()),
		}
	case RoleEventAdmin:
		return []Role{ServerAdmin(), EventAdmin(required.Resource())}
	case RoleEventEditor:
		return []Role{ServerAdmin(), EventAdmin(required.Resource()), EventEditor(required.Resource())}
	case RoleEventViewer:
		return []Role{
			ServerAdmin(),
			EventAdmin(required.Resource()),
			EventEditor(required.Resource()),
			EventViewer(required.Resource()),
		}
	default:
		return nil
	}
}

// Allow builds the authorization predicate answering "may userID act with
// the required capability". It is a Compound(Or) over the satisfying role
// variants, And-ed with the user binding, and composes with any data
// predicate via Compound(And) so filtering and authorization share one
// round trip.
func Allow(userID string, required Role) query.Query {
	satisfying := Satisfying(required)
	alternatives := make([]query.Query, 0, len(satisfying))
	for _, role := range satisfying {
		alternatives = append(alternatives, RoleIs(role))
	}
	return query.Compound{
		Op: query.And,
		Queries: []query.Query{
			query.Logical{Field: FieldUserID, Op: query.Equals, Value: userID},
			query.Compound{Op: query.Or, Queries: alternatives},
		},
	}
}

// ManagingRole returns the capability required to create, modify, or
// delete the given permission.
func ManagingRole(p Permission) Role {
	switch {
	case p.Role.OrganizationScoped():
		return OrganizationAdmin(p.Role.Resource())
	case p.Role.EventScoped():
		return EventAdmin(p.Role.Resource())
	default:
		return ServerAdmin()
	}
}

// ViewingRole returns the capability required to see that the given
// permission exists.
func ViewingRole(p Permission) Role {
	switch {
	case p.Role.OrganizationScoped():
		return OrganizationViewer(p.Role.Resource())
	case p.Role.EventScoped():
		return EventViewer(p.Role.Resource())
	default:
		return ServerAdmin()
	}
}

// RequiredFor expands the permissions being touched into the capability
// checks Store.Check needs, one per touched permission.
func RequiredFor(userID string, touched []Permission, view bool) []Permission {
	required := make([]Permission, 0, len(touched))
	for _, p := range touched {
		role := ManagingRole(p)
		if view {
			role = ViewingRole(p)
		}
		required = append(required, Permission{UserID: userID, Role: role})
	}
	return required
}
