package httpapi

import (
	"net/http"

	"openreg.org/internal/audit"
	"openreg.org/internal/authz"
	"openreg.org/internal/obs"
)

type rotateKeysRequest struct {
	// ClearOld deletes the previous keys instead of retiring them, which
	// invalidates every outstanding token immediately. Used after a
	// suspected key compromise.
	ClearOld bool `json:"clear_old"`
}

type rotateKeysResponse struct {
	Kid string `json:"kid"`
}

// handleKeyRotate installs a fresh signing key. Server admin only.
func (a *API) handleKeyRotate(w http.ResponseWriter, r *http.Request) {
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

	var req rotateKeysRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	kid, err := a.deps.Keys.Rotate(r.Context(), req.ClearOld)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	mode := "soft"
	if req.ClearOld {
		mode = "hard"
	}
	obs.KeyRotation(mode)
	_ = audit.LogEvent(r.Context(), "auth.keys.rotate", map[string]any{
		"kid":  kid,
		"mode": mode,
	})
	writeJSON(w, http.StatusOK, rotateKeysResponse{Kid: kid})
}
