package httpapi

import (
	"net/http"
	"strings"

	"openreg.org/internal/audit"
	"openreg.org/internal/authz"
	"openreg.org/internal/registry"
)

type upsertEventsRequest struct {
	Events []registry.Event `json:"events"`
}

// handleEventsUpsert creates and updates events in one call. Creating an
// event requires administering its organization; updating one requires
// editing the event itself.
func (a *API) handleEventsUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req upsertEventsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, "events are required")
		return
	}

	required := make([]authz.Permission, 0, len(req.Events))
	for _, e := range req.Events {
		if strings.TrimSpace(e.OrganizationID) == "" {
			writeError(w, r, http.StatusBadRequest, "organization_id is required")
			return
		}
		if e.ID == "" {
			required = append(required, authz.Permission{
				UserID: actor,
				Role:   authz.OrganizationAdmin(e.OrganizationID),
			})
		} else {
			required = append(required, authz.Permission{
				UserID: actor,
				Role:   authz.EventEditor(e.ID),
			})
		}
	}
	if !a.requireCapabilities(w, r, required) {
		return
	}

	events, err := a.deps.Events.Upsert(r.Context(), req.Events)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	_ = audit.LogEvent(r.Context(), "registry.event.upsert", map[string]any{
		"event_ids": ids,
	})
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleEventsQuery(w http.ResponseWriter, r *http.Request) {
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
	q, err := parseWireQuery(req.Query, registry.EventWireFields)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	events, err := a.deps.Events.Query(r.Context(), q)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	required := make([]authz.Permission, 0, len(events))
	for _, e := range events {
		required = append(required, authz.Permission{
			UserID: actor,
			Role:   authz.EventViewer(e.ID),
		})
	}
	visible, err := filterVisible(r.Context(), a.deps.Perms, events, required,
		func(e registry.Event) string { return e.ID })
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": visible})
}

func (a *API) handleEventsDelete(w http.ResponseWriter, r *http.Request) {
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
			Role:   authz.EventAdmin(id),
		})
	}
	if !a.requireCapabilities(w, r, required) {
		return
	}

	if err := a.deps.Events.Delete(r.Context(), req.IDs); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "registry.event.delete", map[string]any{
		"event_ids": req.IDs,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
