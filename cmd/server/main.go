// Command server runs the checkout and webhook API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"editions/internal/bootstrap"
	"editions/internal/config"
	"editions/internal/featureflags"
	"editions/internal/middleware"
	"editions/internal/payments"
	"editions/internal/server"
	"editions/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ServiceName: "editions-api"})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	gateway := bootstrap.Gateway(cfg)
	// Stuck-mint retries need no chain access.
	reconciler := rt.NewReconciler(nil, gateway)

	srv := server.NewServer(server.Deps{
		Config:     cfg,
		DB:         rt.DB,
		Redis:      rt.Redis,
		Prometheus: fiberprometheus.NewWithRegistry(prometheus.DefaultRegisterer, "editions-api", "http", "", nil),
		Flags:      featureflags.NewManager(cfg.FeatureFlags),
		Claims:     service.NewClaimService(rt.Ledger, rt.Queue, rt.Notifier, rt.Cache),
		Purchases:  service.NewPurchaseService(rt.Ledger, gateway, rt.Cache),
		Admin:      service.NewAdminService(rt.Queue, reconciler),
		Webhooks:   payments.NewProcessor(cfg.StripeWebhookSecret, rt.Ledger, rt.Queue, rt.Notifier, gateway),
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		middleware.Logger.Info("shutting down api server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := rt.Close(ctx); err != nil {
			log.Printf("Runtime close error: %v", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
