package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-wristlink/internal/api"
	"github.com/technosupport/ts-wristlink/internal/auth"
	"github.com/technosupport/ts-wristlink/internal/camera"
	"github.com/technosupport/ts-wristlink/internal/config"
	"github.com/technosupport/ts-wristlink/internal/delta"
	"github.com/technosupport/ts-wristlink/internal/hub"
	"github.com/technosupport/ts-wristlink/internal/metrics"
	"github.com/technosupport/ts-wristlink/internal/middleware"
	"github.com/technosupport/ts-wristlink/internal/pairing"
	"github.com/technosupport/ts-wristlink/internal/push"
	"github.com/technosupport/ts-wristlink/internal/ratelimit"
	"github.com/technosupport/ts-wristlink/internal/summary"
)

const serviceName = "TS-WristLink"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	cfgStore := config.NewStore(cfgPath, cfg)
	cfgStore.StartWatcher(ctx)

	if cfg.Hub.URL == "" || cfg.Hub.Token == "" {
		log.Fatalf("HUB_URL and HUB_TOKEN are required")
	}

	// 2. Shared Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})

	// 3. Hub connection (events, states, camera frames)
	hubClient := hub.NewClient(cfg.Hub.URL, cfg.Hub.Token)
	if err := hubClient.Start(); err != nil {
		log.Printf("Warning: hub not reachable yet: %v (will keep retrying)", err)
	}

	// 4. Auth + pairing
	owner := &auth.User{
		ID:       cfg.Auth.OwnerID,
		Name:     cfg.Auth.OwnerName,
		IsOwner:  true,
		IsActive: true,
	}
	if owner.ID == "" {
		owner.ID = "owner"
	}
	authService := auth.NewLocalService(cfg.Auth.SigningKey, []*auth.User{owner})

	pairingService := pairing.NewService(authService)
	pairingService.ConfigureDefaults(pairing.Defaults{
		UserID:       cfg.Pairing.UserID,
		BaseURL:      pairing.SanitizeBaseURL(cfg.Pairing.BaseURL),
		LocalURL:     pairing.SanitizeBaseURL(cfg.Pairing.LocalURL),
		RemoteURL:    pairing.SanitizeBaseURL(cfg.Pairing.RemoteURL),
		LifespanDays: pairing.ClampLifespan(cfg.Pairing.LifespanDays),
	})
	pairingService.OrphanCleanup(ctx)

	// 5. Delta engine
	engine := delta.NewEngine(hubClient, delta.Config{
		RingSize:   cfg.Delta.RingSize,
		SessionTTL: cfg.SessionTTL(),
	})
	if err := engine.Start(hubClient); err != nil {
		log.Fatalf("Delta engine subscribe error: %v", err)
	}

	projector := summary.NewProjector(hubClient)

	// 6. Camera pipeline
	pool := camera.NewPool(cfg.Camera.Workers)
	processor := camera.NewProcessor(hubClient, pool, cfg.SnapshotCacheTTL())
	streams := camera.NewCoordinator()

	// 7. Push store + gateway forwarder
	tokenStore := push.NewTokenStore(rdb)
	if err := tokenStore.Load(ctx); err != nil {
		log.Printf("Warning: push token load failed: %v", err)
	}

	var forwarder *push.Forwarder
	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	nc, err := nats.Connect(natsURL, nats.Name(serviceName))
	if err != nil {
		log.Printf("Warning: NATS connect failed: %v. Push forwarding disabled.", err)
	} else {
		defer nc.Close()
		forwarder = push.NewForwarder(nc, cfg.NATS.PushSubject, cfg.NATS.ReceiptSubject,
			cfg.NATS.PublishRetryMax, tokenStore)
		if err := forwarder.StartReceipts(); err != nil {
			log.Printf("Warning: push receipt subscribe failed: %v", err)
		}
	}

	// 8. Metrics
	collector := metrics.NewCollector(engine, streams)
	collector.Start(ctx)

	// 9. HTTP surface
	limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATE_LIMIT_SALT"))
	bearerAuth := middleware.NewBearerAuth(authService)

	router := api.NewRouter(api.Deps{
		Updates: &api.UpdatesHandler{Engine: engine, Projector: projector, Tokens: tokenStore},
		Summary: &api.SummaryHandler{Projector: projector},
		Pairing: &api.PairingHandler{Service: pairingService, Limiter: limiter, Config: cfgStore},
		Camera:  &api.CameraHandler{States: hubClient, Processor: processor, Streams: streams},
		Notify:  &api.NotifyHandler{Tokens: tokenStore},
		Admin:   &api.AdminHandler{Engine: engine},
		Auth:    bearerAuth,
		AdminKey: func() string {
			return cfgStore.Current().Pairing.AdminKeyHash
		},
		Metrics: collector.Handler(),
	})

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Printf("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Graceful shutdown error: %v", err)
	}

	// Revoke unredeemed pairing tokens before the process dies so no
	// usable hub credential outlives its code.
	pairingService.Shutdown(shutdownCtx)
	if err := tokenStore.Flush(shutdownCtx); err != nil {
		log.Printf("[ERROR] Push token flush error: %v", err)
	}
	if forwarder != nil {
		forwarder.Stop()
	}
	engine.Shutdown()
	streams.Shutdown()
	pool.Stop()
	hubClient.Stop()
	cancel()
	log.Printf("Server stopped gracefully")
}
