package httpapi

import (
	"net/http"

	"openreg.org/internal/audit"
	"openreg.org/internal/authz"
	"openreg.org/internal/query"
)

type upsertPermissionsRequest struct {
	Permissions []authz.Permission `json:"permissions"`
}

// handlePermissionsUpsert grants or updates roles. The caller must hold
// the managing capability for every touched grant: organization grants
// need OrganizationAdmin, event grants EventAdmin, and server admin
// grants only another server admin can hand out.
func (a *API) handlePermissionsUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req upsertPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "permissions are required")
		return
	}
	for _, p := range req.Permissions {
		if err := p.Role.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	if !a.requireCapabilities(w, r, authz.RequiredFor(actor, req.Permissions, false)) {
		return
	}

	perms, err := a.deps.Perms.Upsert(r.Context(), req.Permissions)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	_ = audit.LogEvent(r.Context(), "authz.permission.upsert", map[string]any{
		"permission_ids": ids,
	})
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// handlePermissionsQuery runs the caller's filter and then hides the
// grants the caller may not see.
func (a *API) handlePermissionsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q, err := parseWireQuery(req.Query, authz.WireFields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	perms, err := a.deps.Perms.Query(r.Context(), q)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	visible, err := a.visiblePermissions(r, actor, perms)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": visible})
}

// visiblePermissions batch-checks the viewing capability per grant. A
// grant about the caller themselves is always visible.
func (a *API) visiblePermissions(r *http.Request, actor string, perms []authz.Permission) ([]authz.Permission, error) {
	var (
		foreign []authz.Permission
		own     = make(map[string]bool)
	)
	for _, p := range perms {
		if p.UserID == actor {
			own[p.ID] = true
			continue
		}
		foreign = append(foreign, p)
	}

	failed, err := a.deps.Perms.Check(r.Context(), authz.RequiredFor(actor, foreign, true))
	if err != nil {
		return nil, err
	}
	deniedScopes := make(map[string]bool, len(failed))
	for _, p := range failed {
		deniedScopes[p.Role.Tag()+"/"+p.Role.Resource()] = true
	}

	visible := make([]authz.Permission, 0, len(perms))
	for _, p := range perms {
		if own[p.ID] {
			visible = append(visible, p)
			continue
		}
		view := authz.ViewingRole(p)
		if !deniedScopes[view.Tag()+"/"+view.Resource()] {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (a *API) handlePermissionsDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "ids are required")
		return
	}

	// The managing capability depends on what each grant is, so fetch the
	// targeted grants first.
	leaves := make([]query.Query, 0, len(req.IDs))
	for _, id := range req.IDs {
		leaves = append(leaves, query.Logical{Field: authz.FieldID, Op: query.Equals, Value: id})
	}
	touched, err := a.deps.Perms.Query(r.Context(), query.Compound{Op: query.Or, Queries: leaves})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if len(touched) != len(req.IDs) {
		writeError(w, r, http.StatusNotFound, "permission not found")
		return
	}

	if !a.requireCapabilities(w, r, authz.RequiredFor(actor, touched, false)) {
		return
	}

	if err := a.deps.Perms.Delete(r.Context(), req.IDs); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "authz.permission.delete", map[string]any{
		"permission_ids": req.IDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
