package httpapi

import (
	"net/http"
	"strings"

	"openreg.org/internal/audit"
	"openreg.org/internal/authz"
	"openreg.org/internal/query"
	"openreg.org/internal/registry"
)

type upsertRegistrationsRequest struct {
	Registrations []registry.Registration `json:"registrations"`
}

// handleRegistrationsUpsert creates and updates registrations. Both
// directions require editing the event being registered for.
func (a *API) handleRegistrationsUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req upsertRegistrationsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Registrations) == 0 {
		writeError(w, r, http.StatusBadRequest, "registrations are required")
		return
	}

	required := make([]authz.Permission, 0, len(req.Registrations))
	for _, reg := range req.Registrations {
		if strings.TrimSpace(reg.EventID) == "" {
			writeError(w, r, http.StatusBadRequest, "event_id is required")
			return
		}
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.EventEditor(reg.EventID),
		})
	}
	if !a.requireCapabilities(w, r, required) {
		return
	}

	regs, err := a.deps.Registrations.Upsert(r.Context(), req.Registrations)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.ID)
	}
	_ = audit.LogEvent(r.Context(), "registry.registration.upsert", map[string]any{
		"registration_ids": ids,
	})
	writeJSON(w, http.StatusOK, map[string]any{"registrations": regs})
}

func (a *API) handleRegistrationsQuery(w http.ResponseWriter, r *http.Request) {
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
	q, err := parseWireQuery(req.Query, registry.RegistrationWireFields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	regs, err := a.deps.Registrations.Query(r.Context(), q)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	required := make([]authz.Permission, 0, len(regs))
	for _, reg := range regs {
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.EventViewer(reg.EventID),
		})
	}
	visible, err := filterVisible(r.Context(), a.deps.Perms, regs, required,
		func(reg registry.Registration) string { return reg.EventID })
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": visible})
}

func (a *API) handleRegistrationsDelete(w http.ResponseWriter, r *http.Request) {
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

	// The editing capability is scoped to the event, so fetch the targeted
	// registrations first.
	leaves := make([]query.Query, 0, len(req.IDs))
	for _, id := range req.IDs {
		leaves = append(leaves, query.Logical{
			Field: registry.RegistrationFieldID, Op: query.Equals, Value: id,
		})
	}
	touched, err := a.deps.Registrations.Query(r.Context(),
		query.Compound{Op: query.Or, Queries: leaves})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if len(touched) != len(req.IDs) {
		writeError(w, r, http.StatusNotFound, "registration not found")
		return
	}

	required := make([]authz.Permission, 0, len(touched))
	for _, reg := range touched {
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.EventEditor(reg.EventID),
		})
	}
	if !a.requireCapabilities(w, r, required) {
		return
	}

	if err := a.deps.Registrations.Delete(r.Context(), req.IDs); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "registry.registration.delete", map[string]any{
		"registration_ids": req.IDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
