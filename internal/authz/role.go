// Package authz models "who may do what to which resource" as data.
// Authorization is a query problem: a required capability expands into a
// predicate over the permissions table, so a single round trip can both
// filter and authorize.
package authz

import (
	"encoding/json"
	"fmt"
)

// RoleKind discriminates the closed role set. Adding a variant requires
// extending every rule that should consider it; anything not listed is
// unauthorized by default.
type RoleKind int

const (
	RoleServerAdmin RoleKind = iota
	RoleOrganizationAdmin
	RoleOrganizationViewer
	RoleEventAdmin
	RoleEventEditor
	RoleEventViewer
)

// Persisted role tags. These are trusted literals originating from the
// closed set above, never from request input.
var roleTags = map[RoleKind]string{
	RoleServerAdmin:        "SERVER_ADMIN",
	RoleOrganizationAdmin:  "ORGANIZATION_ADMIN",
	RoleOrganizationViewer: "ORGANIZATION_VIEWER",
	RoleEventAdmin:         "EVENT_ADMIN",
	RoleEventEditor:        "EVENT_EDITOR",
	RoleEventViewer:        "EVENT_VIEWER",
}

// Role is a role variant bound to the resource it applies to. ServerAdmin
// has no resource; organization roles carry an organization id, event
// roles an event id.
type Role struct {
	kind     RoleKind
	resource string
}

// ServerAdmin may do anything.
func ServerAdmin() Role { return Role{kind: RoleServerAdmin} }

// OrganizationAdmin manages one organization and everything in it.
func OrganizationAdmin(orgID string) Role {
	return Role{kind: RoleOrganizationAdmin, resource: orgID}
}

// OrganizationViewer may read one organization and everything in it.
func OrganizationViewer(orgID string) Role {
	return Role{kind: RoleOrganizationViewer, resource: orgID}
}

// EventAdmin manages one event.
func EventAdmin(eventID string) Role { return Role{kind: RoleEventAdmin, resource: eventID} }

// EventEditor may modify one event but not its permissions.
func EventEditor(eventID string) Role { return Role{kind: RoleEventEditor, resource: eventID} }

// EventViewer may read one event.
func EventViewer(eventID string) Role { return Role{kind: RoleEventViewer, resource: eventID} }

// Kind returns the role variant.
func (r Role) Kind() RoleKind { return r.kind }

// Resource returns the organization or event id the role is scoped to;
// empty for ServerAdmin.
func (r Role) Resource() string { return r.resource }

// Tag returns the persisted discriminator for the role variant.
func (r Role) Tag() string { return roleTags[r.kind] }

// OrganizationScoped reports whether the role binds an organization id.
func (r Role) OrganizationScoped() bool {
	return r.kind == RoleOrganizationAdmin || r.kind == RoleOrganizationViewer
}

// EventScoped reports whether the role binds an event id.
func (r Role) EventScoped() bool {
	return r.kind == RoleEventAdmin || r.kind == RoleEventEditor || r.kind == RoleEventViewer
}

// Validate checks the resource binding matches the variant.
func (r Role) Validate() error {
	if _, ok := roleTags[r.kind]; !ok {
		return fmt.Errorf("authz: unknown role kind %d", int(r.kind))
	}
	if r.kind == RoleServerAdmin {
		if r.resource != "" {
			return fmt.Errorf("authz: role %s takes no resource", r.Tag())
		}
		return nil
	}
	if r.resource == "" {
		return fmt.Errorf("authz: role %s requires a resource id", r.Tag())
	}
	return nil
}

func roleFromTag(tag, resource string) (Role, error) {
	for kind, t := range roleTags {
		if t == tag {
			r := Role{kind: kind, resource: resource}
			return r, r.Validate()
		}
	}
	return Role{}, fmt.Errorf("authz: unknown role %q", tag)
}

// RoleFromRow reconstructs a role from its persisted columns.
func RoleFromRow(tag string, organization, event *string) (Role, error) {
	resource := ""
	switch tag {
	case "ORGANIZATION_ADMIN", "ORGANIZATION_VIEWER":
		if organization == nil {
			return Role{}, fmt.Errorf("authz: role %s is missing its organization", tag)
		}
		resource = *organization
	case "EVENT_ADMIN", "EVENT_EDITOR", "EVENT_VIEWER":
		if event == nil {
			return Role{}, fmt.Errorf("authz: role %s is missing its event", tag)
		}
		resource = *event
	}
	return roleFromTag(tag, resource)
}

type roleWire struct {
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
}

// MarshalJSON encodes a role in its wire shape:
// {"role": "ORGANIZATION_ADMIN", "organization_id": "..."}.
func (r Role) MarshalJSON() ([]byte, error) {
	w := roleWire{Role: r.Tag()}
	switch {
	case r.OrganizationScoped():
		w.OrganizationID = r.resource
	case r.EventScoped():
		w.EventID = r.resource
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates the wire shape.
func (r *Role) UnmarshalJSON(data []byte) error {
	var w roleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	resource := w.OrganizationID
	if resource == "" {
		resource = w.EventID
	}
	role, err := roleFromTag(w.Role, resource)
	if err != nil {
		return err
	}
	*r = role
	return nil
}
