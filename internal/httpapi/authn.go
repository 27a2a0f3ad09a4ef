package httpapi

import (
	"net/http"
	"strings"

	"openreg.org/internal/auth"
	"openreg.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// authCookie carries the access token for the browser UI; API
	// clients use the Authorization header instead. The header wins when
	// both are present.
	authCookie = "authorization"
)

// Paths reachable without a token. Everything else requires a valid
// access token; there is no anonymous read access.
var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/",
}

var publicPrefixes = []string{
	"/assets/",
}

// withAuth authenticates every non-public request and attaches the
// validated claims to the context. Any validation failure is a plain 401;
// the reason never reaches the client.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := a.deps.Tokens.Validate(r.Context(), token, auth.AudienceAccess)
		if err != nil {
			obs.TokenValidation("rejected")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		obs.TokenValidation("ok")

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken pulls the bearer token from the Authorization header or,
// failing that, the session cookie.
func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return ""
		}
		return strings.TrimSpace(header[len(bearer):])
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
