// Package httpapi is the HTTP layer: routing, authentication, and the
// translation of domain errors into status codes. Handlers delegate all
// decisions to the auth and authz packages; nothing here inspects tokens
// or permissions directly.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"openreg.org/api/spec"
	"openreg.org/internal/auth"
	"openreg.org/internal/authz"
	"openreg.org/internal/obs"
	"openreg.org/internal/query"
	"openreg.org/internal/registry"
	"openreg.org/internal/store/pg"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the API serves. All fields are required except
// Ready.
type Deps struct {
	Auth          *auth.Service
	Tokens        *auth.TokenService
	Keys          *auth.KeyManager
	Users         auth.UserStore
	Perms         authz.Store
	Orgs          registry.OrganizationStore
	Events        registry.EventStore
	Registrations registry.RegistrationStore
	Ready         ReadyProbe
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	deps    Deps
	version string
}

func New(deps Deps, version string) *API {
	a := &API{
		mux:     http.NewServeMux(),
		deps:    deps,
		version: version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/password", a.handleSetPassword)

	a.mux.HandleFunc("/v1/users", a.handleUsersCreate)

	a.mux.HandleFunc("/v1/organizations", a.handleOrganizationsCreate)
	a.mux.HandleFunc("/v1/organizations/query", a.handleOrganizationsQuery)
	a.mux.HandleFunc("/v1/organizations/delete", a.handleOrganizationsDelete)

	a.mux.HandleFunc("/v1/events", a.handleEventsUpsert)
	a.mux.HandleFunc("/v1/events/query", a.handleEventsQuery)
	a.mux.HandleFunc("/v1/events/delete", a.handleEventsDelete)

	a.mux.HandleFunc("/v1/registrations", a.handleRegistrationsUpsert)
	a.mux.HandleFunc("/v1/registrations/query", a.handleRegistrationsQuery)
	a.mux.HandleFunc("/v1/registrations/delete", a.handleRegistrationsDelete)

	a.mux.HandleFunc("/v1/permissions", a.handlePermissionsUpsert)
	a.mux.HandleFunc("/v1/permissions/query", a.handlePermissionsQuery)
	a.mux.HandleFunc("/v1/permissions/delete", a.handlePermissionsDelete)

	a.mux.HandleFunc("/v1/admin/keys/rotate", a.handleKeyRotate)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// requireCapabilities runs the batch permission check and writes 401/403
// when the caller may not proceed. Returns false when the request has been
// answered.
func (a *API) requireCapabilities(w http.ResponseWriter, r *http.Request, required []authz.Permission) bool {
	if _, ok := auth.UserIDFromContext(r.Context()); !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	failed, err := a.deps.Perms.Check(r.Context(), required)
	if err != nil {
		handleDomainError(w, r, err)
		return false
	}
	if len(failed) > 0 {
		obs.PermissionCheck("denied")
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	obs.PermissionCheck("allowed")
	return true
}

// actor returns the authenticated subject or answers 401.
func (a *API) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps domain errors onto status codes. Caller-caused
// errors keep their message; everything else collapses to a generic 500
// so internals never leak.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *query.ValidationError
	var missing *pg.MissingIDError
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, r, http.StatusBadRequest, "password does not meet requirements")
	case errors.Is(err, auth.ErrNoSigningKey):
		writeError(w, r, http.StatusServiceUnavailable, "no active signing key")
	case errors.As(err, &validation):
		writeError(w, r, http.StatusBadRequest, validation.Error())
	case errors.As(err, &missing):
		writeError(w, r, http.StatusNotFound, missing.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
