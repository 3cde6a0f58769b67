package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatcore.org/internal/ai"
	"chatcore.org/internal/audit"
	"chatcore.org/internal/config"
	"chatcore.org/internal/crypto"
	"chatcore.org/internal/httpapi"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
	"chatcore.org/internal/session"
	"chatcore.org/internal/store"
	"chatcore.org/internal/store/memstore"
	"chatcore.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Store backend: PostgreSQL when a DSN is configured, memory otherwise.
	var (
		st      store.Store
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		var err error
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open pg store: %v", err)
		}
		st = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		st = memstore.New()
	}

	envelope, err := crypto.New(cfg.SharedSecret)
	if err != nil {
		log.Fatalf("envelope: %v", err)
	}

	recorder := audit.NewRecorder(st)
	idSvc := identity.NewService(st, recorder, identity.WithBuiltinAdmin(identity.BuiltinAdmin{
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	}))
	rooms := room.NewRegistry(st, recorder, idSvc)
	idSvc.SetRoomEnsurer(rooms)
	messages := message.NewLog(st)
	minter := identity.NewTokenMinter(cfg.TokenSecret, cfg.TokenTTL)

	orchOpts := []session.Option{session.WithAuthTimeout(cfg.AuthTimeout)}
	if cfg.OpenAIKey != "" {
		orchOpts = append(orchOpts, session.WithGenerator(ai.NewClient(cfg.OpenAIKey, cfg.OpenAIModel)))
	}
	orch := session.New(idSvc, rooms, messages, recorder, envelope, orchOpts...)

	api := httpapi.New(probe, version, httpapi.Deps{
		Orchestrator: orch,
		Identity:     idSvc,
		Minter:       minter,
		Rooms:        rooms,
		Messages:     messages,
		Audit:        recorder,
		Envelope:     envelope,
	})

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.RateLimit(
				httpapi.MaxBodyBytes(api.Handler(), 1<<20),
				20, 10)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting chatcore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
