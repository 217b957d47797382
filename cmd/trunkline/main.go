package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ent0n29/trunkline/internal/assets"
	"github.com/ent0n29/trunkline/internal/bridge"
	"github.com/ent0n29/trunkline/internal/claims"
	"github.com/ent0n29/trunkline/internal/config"
	"github.com/ent0n29/trunkline/internal/holdmusic"
	"github.com/ent0n29/trunkline/internal/httpapi"
	"github.com/ent0n29/trunkline/internal/observability"
	"github.com/ent0n29/trunkline/internal/realtime"
	"github.com/ent0n29/trunkline/internal/registry"
	"github.com/ent0n29/trunkline/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		log.Printf("warning: OPENAI_API_KEY is not set; calls will connect but no model leg can be established")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	claimStore, err := claims.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("claim store init failed: %v", err)
	}
	defer claimStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("claim store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("claim store: postgres")
	}

	holdStore, err := assets.NewDirStore(cfg.HoldMusicDir)
	if err != nil {
		log.Printf("hold music dir unavailable (%v); synthesized tone only", err)
		holdStore = nil
	}

	toolRegistry := tools.DefaultRegistry(claimStore)

	dialer := realtime.NewDialer(realtime.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	factory := func(id string, b bridge.Broadcaster) *bridge.Session {
		var store assets.Store
		if holdStore != nil {
			store = holdStore
		} else {
			store = assets.NewMemStore()
		}
		return bridge.NewSession(id, bridge.Deps{
			Tools:        toolRegistry,
			Hold:         holdmusic.New(store, holdmusic.FrameInterval, cfg.HoldMusicDefaultTrack),
			Broadcaster:  b,
			Metrics:      metrics,
			Greeting:     cfg.Greeting,
			Voice:        cfg.OpenAIVoice,
			Instructions: cfg.Instructions,
		})
	}
	sessions := registry.NewSupervisor(factory, cfg.SessionInactivityTimeout, cfg.ObserverGracePeriod, metrics)

	var holdListing assets.Store
	if holdStore != nil {
		holdListing = holdStore
	}
	api := httpapi.New(cfg, sessions, dialer, claimStore, holdListing, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
