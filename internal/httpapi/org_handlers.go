package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"openreg.org/internal/audit"
	"openreg.org/internal/authz"
	"openreg.org/internal/registry"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type queryRequest struct {
	Query json.RawMessage `json:"query,omitempty"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

func (a *API) handleOrganizationsCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}
	if !a.requireCapabilities(w, r, []authz.Permission{{UserID: actor, Role: authz.ServerAdmin()}}) {
		return
	}

	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	org := registry.Organization{Name: name}
	if err := a.deps.Orgs.Create(r.Context(), &org); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "registry.organization.create", map[string]any{
		"organization_id": org.ID,
		"name":            org.Name,
	})
	writeJSON(w, http.StatusCreated, org)
}

// handleOrganizationsQuery runs the caller's filter, then drops every
// organization the caller may not view. The visibility check is one batch
// Check call, not one query per row.
func (a *API) handleOrganizationsQuery(w http.ResponseWriter, r *http.Request) {
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
	q, err := parseWireQuery(req.Query, registry.OrgWireFields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	orgs, err := a.deps.Orgs.Query(r.Context(), q)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	required := make([]authz.Permission, 0, len(orgs))
	for _, org := range orgs {
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.OrganizationViewer(org.ID),
		})
	}
	visible, err := filterVisible(r.Context(), a.deps.Perms, orgs, required,
		func(org registry.Organization) string { return org.ID })
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": visible})
}

func (a *API) handleOrganizationsDelete(w http.ResponseWriter, r *http.Request) {
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

	required := make([]authz.Permission, 0, len(req.IDs))
	for _, id := range req.IDs {
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.OrganizationAdmin(id),
		})
	}
	if !a.requireCapabilities(w, r, required) {
		return
	}

	if err := a.deps.Orgs.Delete(r.Context(), req.IDs); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "registry.organization.delete", map[string]any{
		"organization_ids": req.IDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
