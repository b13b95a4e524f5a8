// Copyright 2025 Wisdom Hub Project
//
// Wisdom Hub daemon
// Federation hub for a decentralized knowledge-sharing network: signed
// entity store, transitive trust resolution, peer discovery, federated
// search, and disk-pressure admission control.

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wisdomnet/wisdom-hub/pkg/admission"
	"github.com/wisdomnet/wisdom-hub/pkg/config"
	"github.com/wisdomnet/wisdom-hub/pkg/federation"
	"github.com/wisdomnet/wisdom-hub/pkg/hub"
	"github.com/wisdomnet/wisdom-hub/pkg/server"
	"github.com/wisdomnet/wisdom-hub/pkg/store"
	"github.com/wisdomnet/wisdom-hub/pkg/trust"
)

func main() {
	// Local development convenience; ignored when absent.
	_ = godotenv.Load()

	defaultConfig := os.Getenv("WISDOMHUB_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to YAML configuration")
	flag.Parse()

	logger := log.New(log.Writer(), "[WisdomHub] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("configuration error: %v", err)
	}
	logger.Printf("starting hub %s (%s) on %s", cfg.Hub.HubID, cfg.Hub.Role, cfg.Server.ListenAddr)

	// ====== Storage ======

	db, err := store.OpenDB(cfg.Database.DataDir)
	if err != nil {
		logger.Fatalf("failed to open store: %v", err)
	}
	st, err := store.New(db, cfg.Database.CacheSizeMB)
	if err != nil {
		logger.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	// ====== Core components ======

	adm := admission.New(admission.Config{
		DataDir:           cfg.Database.DataDir,
		WarningThreshold:  cfg.Resources.WarningThreshold,
		CriticalThreshold: cfg.Resources.CriticalThreshold,
		CheckInterval:     time.Duration(cfg.Resources.CheckIntervalSec) * time.Second,
	})

	heartbeatInterval := time.Duration(cfg.Discovery.HeartbeatIntervalSec) * time.Second
	registry := federation.NewRegistry(cfg.Hub.HubID, heartbeatInterval)

	localSearch := func(query string, limit int) ([]*store.Match, error) {
		matches, _, err := st.SearchFragments(query, "", limit)
		return matches, err
	}
	searcher := federation.NewSearcher(registry, localSearch, federation.SearcherConfig{
		SelfID:             cfg.Hub.HubID,
		MaxPeerConcurrency: cfg.Federation.MaxPeerConcurrency,
	})

	svc := hub.NewService(st, adm, registry, searcher, trust.Config{
		MaxDepth:          cfg.Trust.MaxDepth,
		DampingFactor:     cfg.Trust.DampingFactor,
		MinTrustThreshold: cfg.Trust.MinTrustThreshold,
	}, cfg.Hub.Role)

	// ====== Background tasks ======

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adm.Start(ctx)
	defer adm.Stop()
	registry.StartSweeper(ctx)
	defer registry.StopSweeper()

	var upstream *federation.UpstreamClient
	if cfg.Hub.Role == config.RoleSecondary {
		upstream = federation.NewUpstreamClient(registry, cfg.Discovery.PrimaryHubURL,
			federation.RegisterRequest{
				HubID:        cfg.Hub.HubID,
				URL:          cfg.Hub.PublicURL,
				Capabilities: []string{"store", "search", "trust"},
			},
			svc.Stats, heartbeatInterval)
		upstream.Start(ctx)
		defer upstream.Stop()
	}

	// ====== HTTP server ======

	srv := server.New(svc, cfg)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()
	logger.Printf("api listening on %s", cfg.Server.ListenAddr)

	// ====== Shutdown ======

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
}
