package httpapi

import (
	"net/http"
	"strings"
	"time"

	"openreg.org/internal/audit"
	"openreg.org/internal/auth"
	"openreg.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type setPasswordRequest struct {
	UserID   string `json:"user_id,omitempty"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, claims, err := a.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	refresh, _, err := a.deps.Auth.RefreshTokenFor(r.Context(), claims.UserID())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	expiresAt := claims.ExpiresAt.Time
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":    claims.UserID(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:        token,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	token, claims, err := a.deps.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// handleSetPassword changes the caller's own password, or any user's when
// the caller is a server admin.
func (a *API) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req setPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = actor
	}
	if target != actor {
		required := []authz.Permission{{UserID: actor, Role: authz.ServerAdmin()}}
		if !a.requireCapabilities(w, r, required) {
			return
		}
	}

	if err := a.deps.Auth.SetPassword(r.Context(), target, req.Password); err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password.set", map[string]any{
		"target_user_id": target,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password,omitempty"`
}

// handleUsersCreate registers an account. Server admin only. When a
// password is supplied it must pass the strength policy; without one the
// account stays unusable until a password is set.
func (a *API) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
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

	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	// Reject a weak password before the row exists, not after.
	if req.Password != "" && !auth.CheckPassword(req.Password).Valid() {
		writeError(w, r, http.StatusBadRequest, "password does not meet requirements")
		return
	}

	user := auth.User{Email: email, DisplayName: strings.TrimSpace(req.DisplayName)}
	if err := a.deps.Users.Create(r.Context(), &user); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if req.Password != "" {
		if err := a.deps.Auth.SetPassword(r.Context(), user.ID, req.Password); err != nil {
			handleDomainError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.user.create", map[string]any{
		"new_user_id": user.ID,
		"email":       user.Email,
	})
	writeJSON(w, http.StatusCreated, user)
}
