package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"keygate.io/internal/account"
	"keygate.io/internal/apikey"
	"keygate.io/internal/credential"
	"keygate.io/internal/httpapi"
	"keygate.io/internal/obs"
	"keygate.io/internal/store/memory"
	"keygate.io/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := envDefault("KEYGATE_ADDR", ":8080")
	grpcAddr := os.Getenv("KEYGATE_GRPC_ADDR")
	bcryptCost := envInt("KEYGATE_BCRYPT_COST", 12)
	tokenBytes := envInt("KEYGATE_MIN_TOKEN_BYTES", credential.DefaultTokenBytes)

	// Without a DSN the service runs on in-memory stores. That mode is for
	// local development only; state is lost on restart.
	var (
		db       *sql.DB
		accounts account.Store
		keys     apikey.Store
	)
	if dsn := os.Getenv("KEYGATE_PG_DSN"); dsn != "" {
		var err error
		db, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		accounts = pg.NewAccountStore(db)
		keys = pg.NewKeyStore(db)
	} else {
		log.Print("KEYGATE_PG_DSN not set, using in-memory stores")
		accounts = memory.NewAccountStore()
		keys = memory.NewKeyStore()
	}

	hasher := credential.NewHasher(bcryptCost)
	registry := apikey.NewRegistry(keys, apikey.WithTokenBytes(tokenBytes))
	provisioner := account.NewProvisioner(accounts, hasher)

	api := httpapi.New(httpapi.Config{
		ReadyProbe:  httpapi.ReadyProbe{DB: db},
		Version:     version,
		Registry:    registry,
		Accounts:    accounts,
		Provisioner: provisioner,
		Hasher:      hasher,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting keygate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *httpapi.GRPCServer
	if grpcAddr != "" {
		grpcSrv = httpapi.NewGRPCServer(httpapi.ReadyProbe{DB: db})
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		log.Printf("Serving gRPC health on %s", grpcAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				grpcSrv.Refresh(context.Background())
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: invalid integer %q", key, v)
	}
	return n
}
