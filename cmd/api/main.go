package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"openreg.org/internal/auth"
	"openreg.org/internal/httpapi"
	"openreg.org/internal/obs"
	"openreg.org/internal/store/pg"
)

var version = "1.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("OPENREG_COMMIT"))

	dsn := os.Getenv("OPENREG_PG_DSN")
	if dsn == "" {
		log.Fatal("OPENREG_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	keys, err := auth.NewKeyManager(
		pg.NewKeyStore(store),
		auth.WithSigningKeyCache(time.Minute),
	)
	if err != nil {
		log.Fatalf("key manager: %v", err)
	}

	ctx := context.Background()
	hasKeys, err := keys.HasKeys(ctx)
	if err != nil {
		log.Fatalf("check keys: %v", err)
	}
	if !hasKeys {
		// The server never generates a key implicitly. The first key is
		// rotated in explicitly, either here via the bootstrap flag or
		// later through the admin endpoint.
		if envBool("OPENREG_BOOTSTRAP_KEYS") {
			kid, err := keys.Rotate(ctx, false)
			if err != nil {
				log.Fatalf("bootstrap key rotation: %v", err)
			}
			obs.Info("bootstrap signing key installed", map[string]any{"kid": kid})
		} else {
			obs.Info("no signing key present; login is unavailable until one is rotated in", nil)
		}
	}

	tokens, err := auth.NewTokenService(keys)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	users := pg.NewUserStore(store)
	authSvc, err := auth.NewService(users, tokens)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Auth:          authSvc,
		Tokens:        tokens,
		Keys:          keys,
		Users:         users,
		Perms:         pg.NewPermissionStore(store),
		Orgs:          pg.NewOrganizationStore(store),
		Events:        pg.NewEventStore(store),
		Registrations: pg.NewRegistrationStore(store),
		Ready:         httpapi.ReadyProbe{DB: store.DB()},
	}, version)

	addr := os.Getenv("OPENREG_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting openreg-api %s on %s", version, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv interface{ GracefulStop() }
	if grpcAddr := os.Getenv("OPENREG_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		s := httpapi.NewGRPCServer(tokens)
		grpcSrv = s
		log.Printf("Starting gRPC on %s", grpcAddr)
		go func() {
			if err := s.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
