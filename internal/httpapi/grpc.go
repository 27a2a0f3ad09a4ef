package httpapi

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"openreg.org/internal/auth"
	"openreg.org/internal/obs"
)

const serviceName = "openreg-api"

// Full-method names reachable without a token, mirroring the HTTP public
// paths.
var publicMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

// UnaryAuthInterceptor authenticates every unary call the same way the
// HTTP layer does: bearer token from the authorization metadata or the
// session cookie, validated as an access token, claims attached to the
// context. Failures are codes.Unauthenticated with no detail.
func UnaryAuthInterceptor(tokens *auth.TokenService) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		token := tokenFromMetadata(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		claims, err := tokens.Validate(ctx, token, auth.AudienceAccess)
		if err != nil {
			obs.TokenValidation("rejected")
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		obs.TokenValidation("ok")

		ctx = auth.ContextWithClaims(ctx, claims)
		ctx = auth.ContextWithToken(ctx, token)
		return handler(ctx, req)
	}
}

// tokenFromMetadata reads the bearer token from the authorization
// metadata key, falling back to the cookie header the browser UI sends.
func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(v), strings.ToLower(bearer)) {
			if token := strings.TrimSpace(v[len(bearer):]); token != "" {
				return token
			}
		}
	}
	for _, raw := range md.Get("cookie") {
		header := http.Header{"Cookie": []string{raw}}
		req := http.Request{Header: header}
		if c, err := req.Cookie(authCookie); err == nil {
			return strings.TrimSpace(c.Value)
		}
	}
	return ""
}

// NewGRPCServer builds the gRPC server with the auth interceptor and the
// standard health service registered.
func NewGRPCServer(tokens *auth.TokenService) *grpc.Server {
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryAuthInterceptor(tokens)))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
